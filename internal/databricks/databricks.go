// Package databricks reads Unity Catalog metadata from an Azure Databricks workspace.
package databricks

import (
	"context"
	"net/url"
	"strings"

	"lakedeploy/internal/api"
)

const catalogsPath = "api/2.1/unity-catalog/catalogs"

// Catalog is a Unity Catalog catalog
type Catalog struct {
	Name        string `json:"name"`
	CatalogType string `json:"catalog_type"`
	Owner       string `json:"owner"`
	Comment     string `json:"comment,omitempty"`
	MetastoreID string `json:"metastore_id"`
}

// Client talks to one Databricks workspace
type Client struct {
	api *api.Client
}

// NewClient creates a client on top of an api client rooted at the workspace URL
func NewClient(c *api.Client) *Client {
	return &Client{api: c}
}

// Host returns the workspace URL
func (c *Client) Host() string {
	return c.api.BaseURL()
}

// ListCatalogs returns every catalog visible to the caller
func (c *Client) ListCatalogs(ctx context.Context) ([]Catalog, error) {
	var catalogs []Catalog
	query := url.Values{}

	for {
		var page struct {
			Catalogs      []Catalog `json:"catalogs"`
			NextPageToken string    `json:"next_page_token"`
		}
		if err := c.api.Get(ctx, catalogsPath, query, &page); err != nil {
			return nil, err
		}
		catalogs = append(catalogs, page.Catalogs...)

		if page.NextPageToken == "" {
			return catalogs, nil
		}
		query = url.Values{"page_token": {page.NextPageToken}}
	}
}

// CatalogExists reports whether a catalog with the given name exists (names are case-insensitive)
func (c *Client) CatalogExists(ctx context.Context, name string) (bool, error) {
	catalogs, err := c.ListCatalogs(ctx)
	if err != nil {
		return false, err
	}
	for _, catalog := range catalogs {
		if strings.EqualFold(catalog.Name, name) {
			return true, nil
		}
	}
	return false, nil
}
