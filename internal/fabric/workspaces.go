package fabric

import (
	"context"
	"net/http"
	"strings"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// ListCapacities returns every capacity the caller can see
func (c *Client) ListCapacities(ctx context.Context) ([]Capacity, error) {
	return api.ListAll[Capacity](ctx, c.api, "capacities", nil)
}

// FindCapacity resolves a capacity by display name (case-insensitive).
// The capacity must be Active.
func (c *Client) FindCapacity(ctx context.Context, name string) (*Capacity, error) {
	capacities, err := c.ListCapacities(ctx)
	if err != nil {
		return nil, err
	}

	for i := range capacities {
		capacity := &capacities[i]
		if !strings.EqualFold(capacity.DisplayName, name) {
			continue
		}
		if capacity.State != "" && !strings.EqualFold(capacity.State, "Active") {
			return nil, errors.Newf(errors.ErrCodeValidationFailed, "Capacity '%s' is %s", capacity.DisplayName, capacity.State).
				WithContext("capacity_id", capacity.ID).
				WithSuggestions("Resume the capacity in the Azure portal and retry")
		}
		return capacity, nil
	}

	return nil, errors.Newf(errors.ErrCodeNotFound, "Capacity '%s' not found", name).
		WithSuggestions(
			"Check the capacity name with 'az fabric capacity list'",
			"Ensure the identity is a capacity administrator or contributor",
		)
}

// ListWorkspaces returns every workspace the caller can see
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	return api.ListAll[Workspace](ctx, c.api, "workspaces", nil)
}

// FindWorkspace returns the workspace with the given display name, or nil
func (c *Client) FindWorkspace(ctx context.Context, name string) (*Workspace, error) {
	workspaces, err := c.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	for i := range workspaces {
		if workspaces[i].DisplayName == name {
			return &workspaces[i], nil
		}
	}
	return nil, nil
}

// GetWorkspace fetches a workspace by ID
func (c *Client) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	if err := c.api.Get(ctx, wsPath(id), nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// CreateWorkspace creates a workspace, optionally on a capacity
func (c *Client) CreateWorkspace(ctx context.Context, name, description, capacityID string) (*Workspace, error) {
	body := map[string]string{"displayName": name}
	if description != "" {
		body["description"] = description
	}
	if capacityID != "" {
		body["capacityId"] = capacityID
	}

	var ws Workspace
	if err := c.api.Post(ctx, "workspaces", body, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// AssignToCapacity moves a workspace onto a capacity
func (c *Client) AssignToCapacity(ctx context.Context, workspaceID, capacityID string) error {
	_, err := c.api.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "assignToCapacity"),
		JSON:   map[string]string{"capacityId": capacityID},
	})
	return err
}

// DeleteWorkspace deletes a workspace and everything in it
func (c *Client) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return c.api.Delete(ctx, wsPath(workspaceID))
}

// ListRoleAssignments returns the workspace role assignments
func (c *Client) ListRoleAssignments(ctx context.Context, workspaceID string) ([]RoleAssignment, error) {
	return api.ListAll[RoleAssignment](ctx, c.api, wsPath(workspaceID, "roleAssignments"), nil)
}

// AddRoleAssignment grants principal role on the workspace.
// It reports false when the principal already had a role.
func (c *Client) AddRoleAssignment(ctx context.Context, workspaceID string, principal Principal, role string) (bool, error) {
	err := c.api.Post(ctx, wsPath(workspaceID, "roleAssignments"), RoleAssignment{Principal: principal, Role: role}, nil)
	if err == nil {
		return true, nil
	}
	if api.IsConflict(err) || api.ServiceCode(err) == "PrincipalAlreadyHasWorkspaceRolePermissions" {
		return false, nil
	}
	return false, err
}
