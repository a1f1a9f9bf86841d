package deploy

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"lakedeploy/internal/config"
	"lakedeploy/internal/ui"
)

type lakehousesStep struct{}

func (lakehousesStep) Name() string { return "lakehouses" }

// Run finds or creates the bronze, silver and gold lakehouses, then waits for
// the gold lakehouse's SQL analytics endpoint
func (lakehousesStep) Run(ctx context.Context, s *State) error {
	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	log := s.logger("lakehouses")
	cfg := s.Config.Lakehouses

	for _, tier := range Tiers {
		name := config.LakehouseName(s.Config, tier)
		token := LakehouseIDToken(tier)

		if isPlanned(wsID) {
			s.Console.DryRun("create lakehouse '%s'", name)
			s.Set(token, planned(name))
			continue
		}

		existing, err := s.Clients.Fabric.FindLakehouse(ctx, wsID, name)
		if err != nil {
			return err
		}
		if existing != nil {
			s.Set(token, existing.ID)
			log.WithFields(map[string]interface{}{"lakehouse": name, "lakehouse_id": existing.ID}).Info("using existing lakehouse")
			continue
		}

		if s.DryRun {
			s.Console.DryRun("create lakehouse '%s' in folder '%s'", name, cfg.Folder)
			s.Set(token, planned(name))
			continue
		}

		folderID, err := s.folderID(ctx, cfg.Folder)
		if err != nil {
			return err
		}
		lh, err := s.Clients.Fabric.CreateLakehouse(ctx, wsID, name, folderID, cfg.EnableSchemas)
		if err != nil {
			return err
		}
		s.Set(token, lh.ID)
		log.WithFields(map[string]interface{}{"lakehouse": name, "lakehouse_id": lh.ID}).Info("lakehouse created")
		s.Console.Success("Created lakehouse " + name)
	}

	goldID := s.Value(LakehouseIDToken("gold"))
	if isPlanned(goldID) {
		s.Console.DryRun("wait for the SQL endpoint of '%s'", config.LakehouseName(s.Config, "gold"))
		return nil
	}

	spinner := ui.NewSpinner(s.Console.Writer(), "Waiting for the gold SQL analytics endpoint")
	spinner.Start()
	endpoint, err := s.Clients.Fabric.WaitForSQLEndpoint(ctx, wsID, goldID, config.Duration(s.Config.Polling.Timeout, 30*time.Minute))
	if err != nil {
		spinner.Stop(false, "SQL analytics endpoint not ready")
		return err
	}
	spinner.Stop(true, "SQL analytics endpoint ready")

	s.Set(TokenSQLEndpointID, endpoint.ID)
	s.Set(TokenSQLEndpoint, endpoint.ConnectionString)
	return nil
}

type sampleDataStep struct{}

func (sampleDataStep) Name() string { return "sample-data" }

// Run uploads the sample files into Files/<target_path> of the bronze lakehouse,
// keeping their directory layout
func (sampleDataStep) Run(ctx context.Context, s *State) error {
	target := strings.Trim(s.Config.SampleData.TargetPath, "/")
	s.Set(TokenSamplePath, path.Join("Files", target))

	files, err := s.Source.SampleFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		s.Console.Info("No sample data to upload")
		return nil
	}

	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	lhID, err := s.lakehouseID(ctx, "bronze")
	if err != nil {
		return err
	}

	log := s.logger("sample-data")
	var total int
	for _, f := range files {
		dest := path.Join(target, f.RelPath)
		if s.DryRun {
			s.Console.DryRun("upload %s to Files/%s", f.RelPath, dest)
			continue
		}

		content, err := f.Read()
		if err != nil {
			return err
		}
		if err := s.Clients.Fabric.UploadFile(ctx, wsID, lhID, dest, content); err != nil {
			return err
		}
		total += len(content)
		log.WithFields(map[string]interface{}{"file": dest, "bytes": len(content)}).Debug("sample file uploaded")
	}

	if !s.DryRun {
		log.WithFields(map[string]interface{}{"files": len(files), "bytes": total}).Info("sample data uploaded")
		s.Console.Success(fmt.Sprintf("Uploaded %d sample files to %s", len(files), s.Value(TokenSamplePath)))
	}
	return nil
}
