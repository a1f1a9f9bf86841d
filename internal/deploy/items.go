package deploy

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"lakedeploy/internal/config"
	"lakedeploy/internal/fabric"
	"lakedeploy/internal/tokenize"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
)

type reportsStep struct{}

func (reportsStep) Name() string { return "reports" }

// Run imports each .pbix report, points its semantic model at the gold SQL
// endpoint and optionally refreshes it
func (reportsStep) Run(ctx context.Context, s *State) error {
	files, err := s.Source.Reports()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		s.Console.Info("No reports to import")
		return nil
	}

	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	cfg := s.Config.Reports
	timeout := config.Duration(s.Config.Polling.Timeout, 30*time.Minute)
	params := map[string]string{}
	if cfg.ServerParameter != "" {
		switch endpoint := s.Value(TokenSQLEndpoint); {
		case endpoint != "":
			params[cfg.ServerParameter] = endpoint
		case s.DryRun:
			if !s.workspaceIsPlanned() {
				s.Console.Warning(fmt.Sprintf("SQL endpoint unknown; dataset parameter '%s' would keep its template value", cfg.ServerParameter))
			}
		default:
			return errors.Newf(errors.ErrCodeUnresolvedToken, "SQL endpoint unknown; cannot set dataset parameter '%s'", cfg.ServerParameter).
				WithContext("token", TokenSQLEndpoint).
				WithSuggestions("Run the lakehouses step first, or resume a deployment that completed it")
		}
	}
	if cfg.DatabaseParameter != "" {
		params[cfg.DatabaseParameter] = s.Value(LakehouseNameToken("gold"))
	}

	if s.DryRun {
		for _, f := range files {
			s.Console.DryRun("import report '%s' into '%s' and set %d parameters", f.Name(), cfg.Folder, len(params))
		}
		return nil
	}

	folderID, err := s.folderID(ctx, cfg.Folder)
	if err != nil {
		return err
	}

	log := s.logger("reports")
	for _, f := range files {
		name := f.Name()
		content, err := f.Read()
		if err != nil {
			return err
		}

		importID, err := s.Clients.PowerBI.ImportPBIX(ctx, wsID, name, content)
		if err != nil {
			return errors.Wrap(err, errors.GetErrorCode(err), "failed to import report").WithContext("report", name)
		}
		imp, err := s.Clients.PowerBI.WaitForImport(ctx, wsID, importID, timeout)
		if err != nil {
			return errors.Wrap(err, errors.GetErrorCode(err), "report import failed").WithContext("report", name)
		}

		for _, ds := range imp.Datasets {
			if err := s.Clients.PowerBI.TakeOverDataset(ctx, wsID, ds.ID); err != nil {
				return err
			}
			if err := s.Clients.PowerBI.UpdateParameters(ctx, wsID, ds.ID, params); err != nil {
				return errors.Wrap(err, errors.GetErrorCode(err), "failed to set dataset parameters").WithContext("dataset", ds.Name)
			}
			if cfg.Refresh {
				refresh, err := s.Clients.PowerBI.RefreshDataset(ctx, wsID, ds.ID)
				if err != nil {
					return err
				}
				if err := s.Clients.PowerBI.WaitForRefresh(ctx, wsID, refresh, timeout); err != nil {
					return errors.Wrap(err, errors.GetErrorCode(err), "dataset refresh failed").WithContext("dataset", ds.Name)
				}
			}
			if folderID != "" {
				if err := s.Clients.Fabric.MoveItem(ctx, wsID, ds.ID, folderID); err != nil {
					return err
				}
			}
			s.note("dataset/"+ds.Name, ds.ID)
		}

		for _, r := range imp.Reports {
			if folderID != "" {
				if err := s.Clients.Fabric.MoveItem(ctx, wsID, r.ID, folderID); err != nil {
					return err
				}
			}
			s.note("report/"+r.Name, r.ID)
		}

		log.WithFields(map[string]interface{}{
			"report":   name,
			"import":   importID,
			"datasets": len(imp.Datasets),
			"reports":  len(imp.Reports),
		}).Info("report imported")
		s.Console.Success("Imported report " + name)
	}
	return nil
}

type environmentStep struct{}

func (environmentStep) Name() string { return "environment" }

// Run creates the Spark environment, stages its libraries and publishes it
func (environmentStep) Run(ctx context.Context, s *State) error {
	libraries, err := s.Source.EnvironmentLibraries()
	if err != nil {
		return err
	}
	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	name := s.Config.Environment.Name
	log := s.logger("environment")

	var envID string
	if !isPlanned(wsID) {
		existing, err := s.Clients.Fabric.FindItem(ctx, wsID, fabric.ItemTypeEnvironment, name)
		if err != nil {
			return err
		}
		if existing != nil {
			envID = existing.ID
		}
	}

	if s.DryRun {
		if envID == "" {
			s.Console.DryRun("create environment '%s'", name)
		}
		for _, lib := range libraries {
			s.Console.DryRun("stage library %s", lib.RelPath)
		}
		if len(libraries) > 0 {
			s.Console.DryRun("publish environment '%s'", name)
		}
		return nil
	}

	if envID == "" {
		env, err := s.Clients.Fabric.CreateEnvironment(ctx, wsID, name, "Spark environment for the medallion notebooks", "")
		if err != nil {
			return err
		}
		envID = env.ID
		log.WithField("environment_id", envID).Info("environment created")
	}
	s.Set(TokenEnvironmentID, envID)

	if len(libraries) == 0 {
		s.Console.Info("No environment libraries to publish")
		return nil
	}

	for _, lib := range libraries {
		content, err := lib.Read()
		if err != nil {
			return err
		}
		if err := s.Clients.Fabric.UploadStagingLibrary(ctx, wsID, envID, filepath.Base(lib.Path), content); err != nil {
			return err
		}
		log.WithField("library", lib.RelPath).Debug("library staged")
	}

	publish, err := s.Clients.Fabric.PublishEnvironment(ctx, wsID, envID)
	if err != nil {
		return err
	}
	spinner := ui.NewSpinner(s.Console.Writer(), "Publishing environment "+name)
	spinner.Start()
	if err := s.Clients.Fabric.WaitForPublish(ctx, wsID, publish, config.Duration(s.Config.Environment.PublishTimeout, 30*time.Minute)); err != nil {
		spinner.Stop(false, "Environment publish failed")
		return err
	}
	spinner.Stop(true, "Environment published")

	log.WithFields(map[string]interface{}{
		"environment_id": envID,
		"libraries":      len(libraries),
		"target_version": publish.TargetVersion,
	}).Info("environment published")
	return nil
}

type dataAgentStep struct{}

func (dataAgentStep) Name() string { return "data-agent" }

// Run detokenizes the agent definition and creates or updates the DataAgent item
func (dataAgentStep) Run(ctx context.Context, s *State) error {
	files, err := s.Source.AgentDefinition()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		s.Console.Info("No data agent definition found")
		return nil
	}

	values := s.Values()
	parts := make([]fabric.Part, 0, len(files))
	for _, f := range files {
		content, err := f.Read()
		if err != nil {
			return err
		}

		var resolved []byte
		if strings.EqualFold(path.Ext(f.RelPath), ".json") {
			resolved, err = tokenize.Detokenize(content, values, tokenize.Options{DecodePayloads: true, Strict: !s.DryRun})
			if err != nil {
				return errors.Wrap(err, errors.GetErrorCode(err), "failed to resolve agent definition").WithContext("part", f.RelPath)
			}
		} else {
			text, missing := tokenize.ReplaceText(string(content), values)
			if len(missing) > 0 && !s.DryRun {
				return errors.Newf(errors.ErrCodeUnresolvedToken, "Unresolved tokens in %s", f.RelPath).
					WithContext("tokens", missing)
			}
			resolved = []byte(text)
		}
		parts = append(parts, fabric.NewPart(f.RelPath, resolved))
	}

	name := s.Config.DataAgent.Name
	if s.DryRun {
		s.Console.DryRun("create or update data agent '%s' with %d definition parts", name, len(parts))
		return nil
	}

	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	folderID, err := s.folderID(ctx, s.Config.DataAgent.Folder)
	if err != nil {
		return err
	}

	item, created, err := s.Clients.Fabric.UpsertItem(ctx, wsID, fabric.ItemRequest{
		DisplayName: name,
		Type:        fabric.ItemTypeDataAgent,
		FolderID:    folderID,
		Definition:  &fabric.Definition{Parts: parts},
	})
	if err != nil {
		return err
	}
	s.Set(TokenDataAgentID, item.ID)

	verb := "updated"
	if created {
		verb = "created"
	}
	s.logger("data-agent").WithFields(map[string]interface{}{"item_id": item.ID, "parts": len(parts)}).Info("data agent " + verb)
	s.Console.Success(fmt.Sprintf("Data agent %s %s", name, verb))
	return nil
}

type databricksStep struct{}

func (databricksStep) Name() string { return "databricks" }

func (databricksStep) Enabled(s *State) (bool, string) {
	if !s.Config.Databricks.Enabled {
		return false, "databricks integration disabled"
	}
	return true, ""
}

// Run checks the Unity Catalog exists and mirrors it into the workspace
func (databricksStep) Run(ctx context.Context, s *State) error {
	cfg := s.Config.Databricks
	if s.Clients.Databricks == nil {
		return errors.New(errors.ErrCodeConfigMissing, "Databricks client is not configured").
			WithContext("field", "databricks.host")
	}

	exists, err := s.Clients.Databricks.CatalogExists(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Newf(errors.ErrCodeNotFound, "Unity Catalog '%s' not found in %s", cfg.Catalog, s.Clients.Databricks.Host()).
			WithSuggestions("Check databricks.catalog and that the identity can use the catalog")
	}

	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}

	var existing *fabric.Item
	if !isPlanned(wsID) {
		if existing, err = s.Clients.Fabric.FindItem(ctx, wsID, fabric.ItemTypeDatabricksCatalog, cfg.ItemName); err != nil {
			return err
		}
	}
	if existing != nil {
		s.Set(TokenDatabricksCatalogID, existing.ID)
		s.Console.Info("Using existing mirrored catalog " + cfg.ItemName)
		return nil
	}

	if s.DryRun {
		s.Console.DryRun("mirror catalog '%s' as '%s'", cfg.Catalog, cfg.ItemName)
		return nil
	}

	item, err := s.Clients.Fabric.CreateItem(ctx, wsID, fabric.ItemRequest{
		DisplayName: cfg.ItemName,
		Type:        fabric.ItemTypeDatabricksCatalog,
		CreationPayload: map[string]string{
			"catalogName":                     cfg.Catalog,
			"databricksWorkspaceConnectionId": cfg.ConnectionID,
			"mirroringMode":                   "Full",
		},
	})
	if err != nil {
		return err
	}
	s.Set(TokenDatabricksCatalogID, item.ID)
	s.logger("databricks").WithFields(map[string]interface{}{"catalog": cfg.Catalog, "item_id": item.ID}).Info("catalog mirrored")
	s.Console.Success("Mirrored catalog " + cfg.Catalog)
	return nil
}
