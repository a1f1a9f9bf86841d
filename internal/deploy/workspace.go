package deploy

import (
	"context"
	"strings"

	"lakedeploy/internal/fabric"
	"lakedeploy/internal/graph"
	"lakedeploy/pkg/errors"
)

type workspaceStep struct{}

func (workspaceStep) Name() string { return "workspace" }

// Run resolves the capacity and finds or creates the workspace on it
func (workspaceStep) Run(ctx context.Context, s *State) error {
	cfg := s.Config.Fabric
	log := s.logger("workspace")
	client := s.Clients.Fabric

	capacity, err := client.FindCapacity(ctx, cfg.Capacity)
	if err != nil {
		return err
	}
	s.Set(TokenCapacityID, capacity.ID)

	ws, err := client.FindWorkspace(ctx, cfg.Workspace)
	if err != nil {
		return err
	}

	if ws == nil {
		if s.DryRun {
			s.Console.DryRun("create workspace '%s' on capacity '%s'", cfg.Workspace, capacity.DisplayName)
			s.Set(TokenWorkspaceID, planned("workspace"))
			return nil
		}
		ws, err = client.CreateWorkspace(ctx, cfg.Workspace, cfg.Description, capacity.ID)
		if err != nil {
			return err
		}
		log.WithField("workspace_id", ws.ID).Info("workspace created")
		s.Console.Success("Created workspace " + cfg.Workspace)
		s.Set(TokenWorkspaceID, ws.ID)
		return nil
	}

	s.Set(TokenWorkspaceID, ws.ID)
	log.WithField("workspace_id", ws.ID).Info("using existing workspace")
	s.Console.Info("Using existing workspace " + cfg.Workspace)

	if !strings.EqualFold(ws.CapacityID, capacity.ID) {
		if s.DryRun {
			s.Console.DryRun("assign workspace '%s' to capacity '%s'", cfg.Workspace, capacity.DisplayName)
			return nil
		}
		if err := client.AssignToCapacity(ctx, ws.ID, capacity.ID); err != nil {
			return err
		}
		log.WithField("capacity_id", capacity.ID).Info("workspace assigned to capacity")
	}
	return nil
}

type adminsStep struct{}

func (adminsStep) Name() string { return "admins" }

func (adminsStep) Enabled(s *State) (bool, string) {
	if len(s.Config.Fabric.Admins) == 0 {
		return false, "no admins configured"
	}
	return true, ""
}

// Run resolves each admin through Microsoft Graph and grants it the Admin role
func (adminsStep) Run(ctx context.Context, s *State) error {
	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return err
	}
	log := s.logger("admins")

	for _, identifier := range s.Config.Fabric.Admins {
		principal, err := s.Clients.Graph.ResolvePrincipal(ctx, identifier)
		if err != nil {
			return err
		}

		if s.DryRun {
			s.Console.DryRun("grant Admin to %s %s (%s)", strings.ToLower(principal.Type), principal.DisplayName, principal.ID)
			continue
		}

		added, err := s.Clients.Fabric.AddRoleAssignment(ctx, wsID, toFabricPrincipal(principal), "Admin")
		if err != nil {
			return errors.Wrap(err, errors.GetErrorCode(err), "failed to add workspace admin").
				WithContext("principal", identifier)
		}

		fields := map[string]interface{}{"principal": identifier, "principal_id": principal.ID, "type": principal.Type}
		if added {
			log.InfoWithFields("admin added", fields)
			s.Console.Success("Granted Admin to " + identifier)
		} else {
			log.InfoWithFields("admin already assigned", fields)
			s.Console.VerbosePrintf("  %s already has a workspace role\n", identifier)
		}
	}
	return nil
}

func toFabricPrincipal(p *graph.Principal) fabric.Principal {
	return fabric.Principal{ID: p.ID, Type: p.Type}
}

type foldersStep struct{}

func (foldersStep) Name() string { return "folders" }

// Run creates every configured folder path that does not exist yet
func (foldersStep) Run(ctx context.Context, s *State) error {
	for _, path := range s.Config.Folders {
		if strings.Trim(path, "/ ") == "" {
			continue
		}
		if s.workspaceIsPlanned() {
			s.Console.DryRun("create folder '%s'", path)
			continue
		}

		id, err := s.folderID(ctx, path)
		if err != nil {
			return err
		}
		if s.DryRun && id == "" {
			s.Console.DryRun("create folder '%s'", path)
		}
	}
	if s.folders != nil {
		s.logger("folders").WithField("folders", s.folders.Len()).Info("folders ready")
	}
	return nil
}
