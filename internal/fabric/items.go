package fabric

import (
	"context"
	"net/http"
	"net/url"

	"lakedeploy/internal/api"
)

// ItemRequest describes an item to create
type ItemRequest struct {
	DisplayName string      `json:"displayName"`
	Description string      `json:"description,omitempty"`
	Type        string      `json:"type"`
	FolderID    string      `json:"folderId,omitempty"`
	Definition  *Definition `json:"definition,omitempty"`

	// CreationPayload carries type-specific creation settings, such as the
	// catalog and connection of a mirrored Databricks catalog
	CreationPayload interface{} `json:"creationPayload,omitempty"`
}

// ListItems returns the items of a workspace, filtered by type when itemType is set
func (c *Client) ListItems(ctx context.Context, workspaceID, itemType string) ([]Item, error) {
	var query url.Values
	if itemType != "" {
		query = url.Values{"type": {itemType}}
	}
	return api.ListAll[Item](ctx, c.api, wsPath(workspaceID, "items"), query)
}

// FindItem returns the item of the given type and display name, or nil
func (c *Client) FindItem(ctx context.Context, workspaceID, itemType, name string) (*Item, error) {
	items, err := c.ListItems(ctx, workspaceID, itemType)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].DisplayName == name {
			return &items[i], nil
		}
	}
	return nil, nil
}

// CreateItem creates an item, with its definition when one is given.
// Creating with a definition is a long-running operation.
func (c *Client) CreateItem(ctx context.Context, workspaceID string, item ItemRequest) (*Item, error) {
	var created Item
	err := c.api.DoLRO(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "items"),
		JSON:   item,
	}, &created)
	if err != nil {
		return nil, err
	}

	if created.ID == "" {
		found, err := c.FindItem(ctx, workspaceID, item.Type, item.DisplayName)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, notFound(item.Type, item.DisplayName)
		}
		return found, nil
	}
	return &created, nil
}

// UpdateItemDefinition replaces the definition of an existing item
func (c *Client) UpdateItemDefinition(ctx context.Context, workspaceID, itemID string, def Definition) error {
	return c.api.DoLRO(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "items", itemID, "updateDefinition"),
		Query:  url.Values{"updateMetadata": {"true"}},
		JSON:   map[string]Definition{"definition": def},
	}, nil)
}

// GetItemDefinition exports the definition of an item
func (c *Client) GetItemDefinition(ctx context.Context, workspaceID, itemID, format string) (*Definition, error) {
	var query url.Values
	if format != "" {
		query = url.Values{"format": {format}}
	}

	var result struct {
		Definition Definition `json:"definition"`
	}
	err := c.api.DoLRO(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "items", itemID, "getDefinition"),
		Query:  query,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result.Definition, nil
}

// UpsertItem creates the item, or updates the definition of the existing item with the same name.
// It reports whether the item was created.
func (c *Client) UpsertItem(ctx context.Context, workspaceID string, item ItemRequest) (*Item, bool, error) {
	existing, err := c.FindItem(ctx, workspaceID, item.Type, item.DisplayName)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		created, err := c.CreateItem(ctx, workspaceID, item)
		return created, err == nil, err
	}

	if item.Definition != nil {
		if err := c.UpdateItemDefinition(ctx, workspaceID, existing.ID, *item.Definition); err != nil {
			return nil, false, err
		}
	}
	return existing, false, nil
}

// MoveItem moves an item into a folder ("" for the workspace root)
func (c *Client) MoveItem(ctx context.Context, workspaceID, itemID, folderID string) error {
	body := map[string]string{}
	if folderID != "" {
		body["targetFolderId"] = folderID
	}
	_, err := c.api.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "items", itemID, "move"),
		JSON:   body,
	})
	return err
}

// DeleteItem deletes an item
func (c *Client) DeleteItem(ctx context.Context, workspaceID, itemID string) error {
	return c.api.Delete(ctx, wsPath(workspaceID, "items", itemID))
}
