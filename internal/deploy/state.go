// Package deploy provisions the medallion lakehouse: a Runner executes the
// deployment steps in order against the Fabric, Power BI, Graph and Databricks APIs.
package deploy

import (
	"context"
	"regexp"
	"strings"

	"lakedeploy/internal/artifacts"
	"lakedeploy/internal/config"
	"lakedeploy/internal/fabric"
	"lakedeploy/internal/observability"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// Tokens set while deploying. Notebooks and agent definitions reference them as {{NAME}}.
const (
	TokenCapacityName        = "CAPACITY_NAME"
	TokenCapacityID          = "CAPACITY_ID"
	TokenWorkspaceName       = "WORKSPACE_NAME"
	TokenWorkspaceID         = "WORKSPACE_ID"
	TokenSQLEndpointID       = "SQL_ENDPOINT_ID"
	TokenSQLEndpoint         = "SQL_ENDPOINT_CONNECTION"
	TokenSamplePath          = "SAMPLE_PATH"
	TokenEnvironmentID       = "ENVIRONMENT_ID"
	TokenDataAgentID         = "DATA_AGENT_ID"
	TokenDatabricksHost      = "DATABRICKS_HOST"
	TokenDatabricksCatalog   = "DATABRICKS_CATALOG"
	TokenDatabricksCatalogID = "DATABRICKS_CATALOG_ID"
)

// Tiers are the medallion lakehouse tiers in creation order
var Tiers = []string{"bronze", "silver", "gold"}

const plannedPrefix = "planned:"

var resourceToken = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// LakehouseIDToken returns the token holding the ID of a tier's lakehouse
func LakehouseIDToken(tier string) string {
	return strings.ToUpper(tier) + "_LAKEHOUSE_ID"
}

// LakehouseNameToken returns the token holding the display name of a tier's lakehouse
func LakehouseNameToken(tier string) string {
	return strings.ToUpper(tier) + "_LAKEHOUSE_NAME"
}

// State is shared by the steps of one deployment. Steps publish the IDs they
// resolve as token values; later steps and resumed runs read them back.
type State struct {
	Config  *models.Config
	Clients *Clients
	Source  *artifacts.Source
	Console *ui.Console
	Logger  *observability.Logger
	DryRun  bool
	Record  *models.DeploymentRecord

	values    map[string]string
	folders   *fabric.FolderTree
	notebooks map[string]string
}

// NewState creates the state of a deployment, seeding the values known from config
func NewState(cfg *models.Config, clients *Clients, source *artifacts.Source, console *ui.Console) *State {
	s := &State{
		Config:    cfg,
		Clients:   clients,
		Source:    source,
		Console:   console,
		Logger:    observability.GetDefaultLogger(),
		values:    make(map[string]string),
		notebooks: make(map[string]string),
	}
	if s.Console == nil {
		s.Console = &ui.Console{Quiet: true}
	}

	s.values[TokenCapacityName] = cfg.Fabric.Capacity
	s.values[TokenWorkspaceName] = cfg.Fabric.Workspace
	for _, tier := range Tiers {
		s.values[LakehouseNameToken(tier)] = config.LakehouseName(cfg, tier)
	}
	if cfg.Databricks.Enabled {
		s.values[TokenDatabricksHost] = cfg.Databricks.Host
		s.values[TokenDatabricksCatalog] = cfg.Databricks.Catalog
	}
	return s
}

// Value returns the value of a token, or ""
func (s *State) Value(token string) string {
	return s.values[token]
}

// Values returns a copy of every known token value
func (s *State) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set publishes a token value and records it as a deployment resource
func (s *State) Set(token, value string) {
	s.values[token] = value
	s.note(token, value)
}

// note records a resource that is not a token, such as a report ID
func (s *State) note(key, value string) {
	if s.Record == nil {
		return
	}
	if s.Record.Resources == nil {
		s.Record.Resources = make(map[string]string)
	}
	s.Record.Resources[key] = value
}

// restore reloads token values recorded by an earlier run of the same deployment
func (s *State) restore(rec *models.DeploymentRecord) {
	for k, v := range rec.Resources {
		if resourceToken.MatchString(k) && !isPlanned(v) {
			s.values[k] = v
		}
	}
}

func planned(kind string) string {
	return plannedPrefix + kind
}

func isPlanned(id string) bool {
	return strings.HasPrefix(id, plannedPrefix)
}

// workspaceIsPlanned reports whether a dry run found no workspace to inspect
func (s *State) workspaceIsPlanned() bool {
	return isPlanned(s.values[TokenWorkspaceID])
}

// workspaceID returns the workspace ID, looking the workspace up by name when
// an earlier step did not run in this process
func (s *State) workspaceID(ctx context.Context) (string, error) {
	if id := s.values[TokenWorkspaceID]; id != "" {
		return id, nil
	}

	name := s.Config.Fabric.Workspace
	ws, err := s.Clients.Fabric.FindWorkspace(ctx, name)
	if err != nil {
		return "", err
	}
	if ws == nil {
		if s.DryRun {
			s.Set(TokenWorkspaceID, planned("workspace"))
			return s.values[TokenWorkspaceID], nil
		}
		return "", errors.Newf(errors.ErrCodeNotFound, "Workspace '%s' not found", name).
			WithSuggestions("Run 'lakedeploy deploy' to create the workspace first")
	}
	s.Set(TokenWorkspaceID, ws.ID)
	return ws.ID, nil
}

// lakehouseID returns the ID of a tier's lakehouse, looking it up by name when needed
func (s *State) lakehouseID(ctx context.Context, tier string) (string, error) {
	token := LakehouseIDToken(tier)
	if id := s.values[token]; id != "" {
		return id, nil
	}

	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return "", err
	}
	name := s.values[LakehouseNameToken(tier)]
	if isPlanned(wsID) {
		s.Set(token, planned(name))
		return s.values[token], nil
	}

	lh, err := s.Clients.Fabric.FindLakehouse(ctx, wsID, name)
	if err != nil {
		return "", err
	}
	if lh == nil {
		if s.DryRun {
			s.Set(token, planned(name))
			return s.values[token], nil
		}
		return "", errors.Newf(errors.ErrCodeNotFound, "Lakehouse '%s' not found", name).
			WithContext("tier", tier).
			WithSuggestions("Run the lakehouses step first")
	}
	s.Set(token, lh.ID)
	return lh.ID, nil
}

// folderID resolves a slash-separated folder path. Outside a dry run missing
// folders are created; in a dry run they resolve to the workspace root.
func (s *State) folderID(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	wsID, err := s.workspaceID(ctx)
	if err != nil {
		return "", err
	}
	if isPlanned(wsID) {
		return "", nil
	}

	if s.folders == nil {
		tree, err := s.Clients.Fabric.LoadFolderTree(ctx, wsID)
		if err != nil {
			return "", err
		}
		s.folders = tree
	}

	if s.DryRun {
		id, _ := s.folders.Lookup(strings.Trim(path, "/"))
		return id, nil
	}
	return s.Clients.Fabric.EnsureFolderPath(ctx, wsID, s.folders, path)
}

// logger returns the step logger
func (s *State) logger(step string) *observability.Logger {
	l := s.Logger
	if l == nil {
		l = observability.GetDefaultLogger()
	}
	l = l.WithField("step", step)
	if s.Record != nil {
		l = l.WithField("deployment_id", s.Record.ID)
	}
	return l
}
