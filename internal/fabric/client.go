// Package fabric wraps the Microsoft Fabric REST API and OneLake DFS uploads.
package fabric

import (
	"encoding/base64"
	"strings"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// Item types used by the deployment
const (
	ItemTypeLakehouse         = "Lakehouse"
	ItemTypeNotebook          = "Notebook"
	ItemTypeEnvironment       = "Environment"
	ItemTypeDataAgent         = "DataAgent"
	ItemTypeReport            = "Report"
	ItemTypeSemanticModel     = "SemanticModel"
	ItemTypeSQLEndpoint       = "SQLEndpoint"
	ItemTypeDatabricksCatalog = "MirroredAzureDatabricksCatalog"
)

// Client talks to the Fabric REST API; OneLake uploads go through a second
// client bound to the DFS endpoint and storage token
type Client struct {
	api     *api.Client
	onelake *api.Client
}

// NewClient creates a Fabric client. onelake may be nil when no uploads are needed.
func NewClient(fabricAPI, onelake *api.Client) *Client {
	return &Client{api: fabricAPI, onelake: onelake}
}

// API exposes the underlying REST client
func (c *Client) API() *api.Client {
	return c.api
}

// Capacity is a Fabric capacity
type Capacity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	SKU         string `json:"sku"`
	Region      string `json:"region"`
	State       string `json:"state"`
}

// Workspace is a Fabric workspace
type Workspace struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Type        string `json:"type"`
	CapacityID  string `json:"capacityId"`
}

// Principal identifies a user, group or service principal
type Principal struct {
	ID   string `json:"id"`
	Type string `json:"type"` // User, Group, ServicePrincipal
}

// RoleAssignment grants a principal a workspace role
type RoleAssignment struct {
	ID        string    `json:"id,omitempty"`
	Principal Principal `json:"principal"`
	Role      string    `json:"role"` // Admin, Member, Contributor, Viewer
}

// Folder is a workspace folder
type Folder struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	ParentFolderID string `json:"parentFolderId,omitempty"`
	WorkspaceID    string `json:"workspaceId,omitempty"`
}

// Item is any Fabric item
type Item struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	FolderID    string `json:"folderId,omitempty"`
}

// Part is one file of an item definition
type Part struct {
	Path        string `json:"path"`
	Payload     string `json:"payload"`
	PayloadType string `json:"payloadType"`
}

// Definition is the public definition of an item
type Definition struct {
	Format string `json:"format,omitempty"`
	Parts  []Part `json:"parts"`
}

// NewPart encodes content as an InlineBase64 definition part
func NewPart(path string, content []byte) Part {
	return Part{
		Path:        path,
		Payload:     base64.StdEncoding.EncodeToString(content),
		PayloadType: "InlineBase64",
	}
}

// Decode returns the raw content of an InlineBase64 part
func (p Part) Decode() ([]byte, error) {
	if p.PayloadType != "" && p.PayloadType != "InlineBase64" {
		return nil, errors.Newf(errors.ErrCodeArtifactInvalid, "unsupported payload type %s", p.PayloadType).
			WithContext("path", p.Path)
	}
	data, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactInvalid, "invalid base64 payload").WithContext("path", p.Path)
	}
	return data, nil
}

// Part returns the part at path, if present
func (d *Definition) Part(path string) (Part, bool) {
	for _, p := range d.Parts {
		if p.Path == path {
			return p, true
		}
	}
	return Part{}, false
}

func notFound(kind, name string) error {
	return errors.Newf(errors.ErrCodeNotFound, "%s '%s' not found", kind, name).
		WithContext("kind", strings.ToLower(kind)).
		WithContext("name", name)
}

func wsPath(workspaceID string, parts ...string) string {
	return "workspaces/" + workspaceID + joinParts(parts)
}

func joinParts(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return "/" + strings.Join(parts, "/")
}
