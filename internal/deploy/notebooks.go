package deploy

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"lakedeploy/internal/artifacts"
	"lakedeploy/internal/config"
	"lakedeploy/internal/fabric"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

const notebookPartPath = "notebook-content.ipynb"

type notebooksStep struct{}

func (notebooksStep) Name() string { return "notebooks" }

// Run binds every notebook to its tier's lakehouse and creates or updates it in
// the folder mirroring its directory
func (notebooksStep) Run(ctx context.Context, s *State) error {
	notebooks, err := s.Source.Notebooks()
	if err != nil {
		return err
	}
	if len(notebooks) == 0 {
		s.Console.Warning("No notebooks found in " + s.Config.Artifacts.NotebooksDir)
		return nil
	}

	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}

	known := make([]string, 0, len(Tiers))
	for _, tier := range Tiers {
		id, err := s.lakehouseID(ctx, tier)
		if err != nil {
			return err
		}
		known = append(known, id)
	}

	log := s.logger("notebooks")
	var created, updated int
	for _, nb := range notebooks {
		binding, ok := bindingFor(s.Config.Notebooks.Bindings, nb.Dir)
		tier := binding.Lakehouse
		if !ok {
			tier = "gold"
		}
		folder := binding.Folder
		if folder == "" {
			folder = path.Join("notebooks", nb.Dir)
		}

		if s.DryRun {
			s.Console.DryRun("upload notebook '%s' to '%s' bound to %s", nb.DisplayName, folder, config.LakehouseName(s.Config, tier))
			continue
		}

		content, err := nb.Read()
		if err != nil {
			return err
		}
		bound, missing, err := artifacts.BindNotebook(content, artifacts.Binding{
			LakehouseID:   s.Value(LakehouseIDToken(tier)),
			LakehouseName: s.Value(LakehouseNameToken(tier)),
			WorkspaceID:   wsID,
			Known:         orderedKnown(known, s.Value(LakehouseIDToken(tier))),
		}, s.Values())
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeArtifactInvalid, "failed to bind notebook").WithContext("notebook", nb.RelPath)
		}
		if len(missing) > 0 {
			log.WithFields(map[string]interface{}{"notebook": nb.RelPath, "tokens": missing}).Warn("notebook references unknown tokens")
			s.Console.Warning(fmt.Sprintf("%s references unknown tokens: %s", nb.RelPath, strings.Join(missing, ", ")))
		}

		folderID, err := s.folderID(ctx, folder)
		if err != nil {
			return err
		}
		item, isNew, err := s.Clients.Fabric.UpsertItem(ctx, wsID, fabric.ItemRequest{
			DisplayName: nb.DisplayName,
			Type:        fabric.ItemTypeNotebook,
			FolderID:    folderID,
			Definition: &fabric.Definition{
				Format: "ipynb",
				Parts:  []fabric.Part{fabric.NewPart(notebookPartPath, bound)},
			},
		})
		if err != nil {
			return errors.Wrap(err, errors.GetErrorCode(err), "failed to upload notebook").WithContext("notebook", nb.RelPath)
		}

		s.notebooks[nb.DisplayName] = item.ID
		s.note("notebook/"+nb.DisplayName, item.ID)
		if isNew {
			created++
		} else {
			updated++
		}
		log.WithFields(map[string]interface{}{"notebook": nb.DisplayName, "item_id": item.ID, "created": isNew}).Debug("notebook deployed")
	}

	if !s.DryRun {
		log.WithFields(map[string]interface{}{"created": created, "updated": updated}).Info("notebooks deployed")
		s.Console.Success(fmt.Sprintf("Deployed %d notebooks (%d created, %d updated)", created+updated, created, updated))
	}
	return nil
}

// bindingFor returns the binding whose directory contains dir
func bindingFor(bindings []models.NotebookBinding, dir string) (models.NotebookBinding, bool) {
	var best models.NotebookBinding
	found := false
	for _, b := range bindings {
		bdir := strings.Trim(b.Dir, "/")
		if dir != bdir && !strings.HasPrefix(dir, bdir+"/") {
			continue
		}
		if !found || len(bdir) > len(strings.Trim(best.Dir, "/")) {
			best = b
			found = true
		}
	}
	return best, found
}

func orderedKnown(known []string, first string) []string {
	out := []string{first}
	for _, id := range known {
		if id != first {
			out = append(out, id)
		}
	}
	return out
}

type pipelineStep struct{}

func (pipelineStep) Name() string { return "pipeline" }

func (pipelineStep) Enabled(s *State) (bool, string) {
	if len(s.Config.Notebooks.Runners) == 0 {
		return false, "no runner notebooks configured"
	}
	return true, ""
}

// Run executes the runner notebooks one at a time, waiting for each job to finish
func (pipelineStep) Run(ctx context.Context, s *State) error {
	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	log := s.logger("pipeline")
	timeout := config.Duration(s.Config.Notebooks.JobTimeout, 2*time.Hour)

	for _, runner := range s.Config.Notebooks.Runners {
		if isPlanned(wsID) {
			s.Console.DryRun("run notebook '%s'", runner)
			continue
		}

		itemID, err := s.notebookID(ctx, wsID, runner)
		if err != nil {
			return err
		}
		if s.DryRun {
			if itemID == "" {
				s.Console.DryRun("run notebook '%s' after it is uploaded", runner)
			} else {
				s.Console.DryRun("run notebook '%s'", runner)
			}
			continue
		}
		if itemID == "" {
			return errors.Newf(errors.ErrCodeNotFound, "Runner notebook '%s' not found", runner).
				WithSuggestions(
					"Check notebooks.runners against the notebook file names",
					"Run the notebooks step first",
				)
		}

		start := time.Now()
		location, err := s.Clients.Fabric.RunOnDemandJob(ctx, wsID, itemID, fabric.JobTypeRunNotebook, nil)
		if err != nil {
			return errors.Wrap(err, errors.GetErrorCode(err), "failed to start notebook").WithContext("notebook", runner)
		}
		log.WithFields(map[string]interface{}{"notebook": runner, "job": location}).Info("notebook job started")

		spinner := ui.NewSpinner(s.Console.Writer(), "Running "+runner)
		spinner.Start()
		job, err := s.Clients.Fabric.WaitForJob(ctx, location, timeout)
		if err != nil {
			spinner.Stop(false, runner+" failed")
			return errors.Wrap(err, errors.GetErrorCode(err), "notebook run failed").WithContext("notebook", runner)
		}
		spinner.Stop(true, fmt.Sprintf("%s finished in %s", runner, time.Since(start).Round(time.Second)))

		s.note("job/"+runner, job.ID)
		log.WithFields(map[string]interface{}{"notebook": runner, "job_id": job.ID, "status": job.Status}).Info("notebook job finished")
	}
	return nil
}

// notebookID returns the item ID of a deployed notebook, or "" when it does not exist
func (s *State) notebookID(ctx context.Context, wsID, name string) (string, error) {
	if id, ok := s.notebooks[name]; ok {
		return id, nil
	}
	item, err := s.Clients.Fabric.FindItem(ctx, wsID, fabric.ItemTypeNotebook, name)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", nil
	}
	s.notebooks[name] = item.ID
	return item.ID, nil
}
