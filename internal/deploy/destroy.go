package deploy

import (
	"context"
	"time"

	"lakedeploy/internal/fabric"
	"lakedeploy/internal/history"
	"lakedeploy/internal/observability"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// DestroyResult describes what Destroy found and did
type DestroyResult struct {
	WorkspaceID string
	Deleted     bool
}

// Destroy deletes the named workspace and everything in it, and marks its
// recorded deployments destroyed. With dryRun it only looks the workspace up.
func Destroy(ctx context.Context, client *fabric.Client, hist *history.Manager, workspace string, dryRun bool) (*DestroyResult, error) {
	ctx, span := observability.StartSpan(ctx, "destroy")
	result, err := destroy(ctx, client, hist, workspace, dryRun)
	observability.EndSpan(span, err)
	return result, err
}

func destroy(ctx context.Context, client *fabric.Client, hist *history.Manager, workspace string, dryRun bool) (*DestroyResult, error) {
	ws, err := client.FindWorkspace(ctx, workspace)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, errors.Newf(errors.ErrCodeNotFound, "Workspace '%s' not found", workspace).
			WithSuggestions("Check the workspace name; names are case-sensitive")
	}

	result := &DestroyResult{WorkspaceID: ws.ID}
	if dryRun {
		return result, nil
	}

	if err := client.DeleteWorkspace(ctx, ws.ID); err != nil {
		return nil, err
	}
	result.Deleted = true

	log := observability.GetDefaultLogger().WithFields(map[string]interface{}{"workspace": workspace, "workspace_id": ws.ID})
	log.Info("workspace deleted")

	if hist == nil {
		return result, nil
	}
	now := time.Now()
	for _, rec := range hist.List(workspace, 0) {
		if rec.DryRun || rec.State == models.StateDestroyed {
			continue
		}
		err := hist.Update(rec.ID, func(r *models.DeploymentRecord) {
			r.State = models.StateDestroyed
			if r.EndTime == nil {
				r.EndTime = &now
			}
		})
		if err != nil {
			log.Warnf("failed to mark deployment %s destroyed: %v", rec.ID, err)
		}
	}
	return result, nil
}
