package fabric

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// SQLEndpointProperties describes the SQL analytics endpoint of a lakehouse
type SQLEndpointProperties struct {
	ID                 string `json:"id"`
	ConnectionString   string `json:"connectionString"`
	ProvisioningStatus string `json:"provisioningStatus"` // InProgress, Success, Failed
}

// LakehouseProperties are the lakehouse-specific properties
type LakehouseProperties struct {
	OneLakeTablesPath     string                 `json:"oneLakeTablesPath"`
	OneLakeFilesPath      string                 `json:"oneLakeFilesPath"`
	DefaultSchema         string                 `json:"defaultSchema,omitempty"`
	SQLEndpointProperties *SQLEndpointProperties `json:"sqlEndpointProperties"`
}

// Lakehouse is a Fabric lakehouse
type Lakehouse struct {
	Item
	Properties LakehouseProperties `json:"properties"`
}

// ListLakehouses returns the lakehouses of a workspace
func (c *Client) ListLakehouses(ctx context.Context, workspaceID string) ([]Lakehouse, error) {
	return api.ListAll[Lakehouse](ctx, c.api, wsPath(workspaceID, "lakehouses"), nil)
}

// GetLakehouse fetches a lakehouse with its properties
func (c *Client) GetLakehouse(ctx context.Context, workspaceID, lakehouseID string) (*Lakehouse, error) {
	var lh Lakehouse
	if err := c.api.Get(ctx, wsPath(workspaceID, "lakehouses", lakehouseID), nil, &lh); err != nil {
		return nil, err
	}
	return &lh, nil
}

// FindLakehouse returns the lakehouse with the given name, or nil
func (c *Client) FindLakehouse(ctx context.Context, workspaceID, name string) (*Lakehouse, error) {
	lakehouses, err := c.ListLakehouses(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for i := range lakehouses {
		if lakehouses[i].DisplayName == name {
			return &lakehouses[i], nil
		}
	}
	return nil, nil
}

// CreateLakehouse creates a lakehouse, waiting for the provisioning operation when the service runs it async
func (c *Client) CreateLakehouse(ctx context.Context, workspaceID, name, folderID string, enableSchemas bool) (*Lakehouse, error) {
	body := map[string]interface{}{"displayName": name}
	if folderID != "" {
		body["folderId"] = folderID
	}
	if enableSchemas {
		body["creationPayload"] = map[string]bool{"enableSchemas": true}
	}

	var lh Lakehouse
	err := c.api.DoLRO(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "lakehouses"),
		JSON:   body,
	}, &lh)
	if err != nil {
		return nil, err
	}

	// LRO results for lakehouses can come back without an ID on some tenants
	if lh.ID == "" {
		found, err := c.FindLakehouse(ctx, workspaceID, name)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, notFound("Lakehouse", name)
		}
		return found, nil
	}
	return &lh, nil
}

// WaitForSQLEndpoint polls the lakehouse until its SQL endpoint is provisioned
func (c *Client) WaitForSQLEndpoint(ctx context.Context, workspaceID, lakehouseID string, timeout time.Duration) (*SQLEndpointProperties, error) {
	var endpoint *SQLEndpointProperties
	err := c.api.PollUntil(ctx, "SQL endpoint provisioning", timeout, time.Millisecond, func(ctx context.Context) (bool, time.Duration, error) {
		lh, err := c.GetLakehouse(ctx, workspaceID, lakehouseID)
		if err != nil {
			return false, 0, err
		}

		props := lh.Properties.SQLEndpointProperties
		if props == nil {
			return false, 0, nil
		}

		switch {
		case strings.EqualFold(props.ProvisioningStatus, "Success"):
			endpoint = props
			return true, 0, nil
		case strings.EqualFold(props.ProvisioningStatus, "Failed"):
			return false, 0, errors.New(errors.ErrCodeOperationFailed, "SQL endpoint provisioning failed").
				WithContext("lakehouse_id", lakehouseID)
		default:
			return false, 0, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return endpoint, nil
}
