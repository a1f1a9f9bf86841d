package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"lakedeploy/internal/common"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// Step names in execution order. The deploy package registers its steps under these names.
var StepNames = []string{
	"workspace",
	"admins",
	"folders",
	"lakehouses",
	"sample-data",
	"notebooks",
	"pipeline",
	"reports",
	"environment",
	"data-agent",
	"databricks",
}

// GetConfigPath returns the lakedeploy home directory
func GetConfigPath() string {
	if configFile := os.Getenv("LAKEDEPLOY_CONFIG"); configFile != "" {
		return filepath.Dir(configFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lakedeploy")
}

// GetConfigFile returns the default config file path
func GetConfigFile() string {
	if configFile := os.Getenv("LAKEDEPLOY_CONFIG"); configFile != "" {
		// Validate the path to prevent directory traversal
		cleaned, err := common.CleanPath(configFile)
		if err != nil {
			return filepath.Join(GetConfigPath(), "config.yaml")
		}
		return cleaned
	}
	return filepath.Join(GetConfigPath(), "config.yaml")
}

// Load reads the default config file. A missing file yields an empty config with defaults.
func Load() (*models.Config, error) {
	return LoadFile(GetConfigFile())
}

// LoadFile reads config from path and applies defaults
func LoadFile(path string) (*models.Config, error) {
	cleanedPath, err := common.CleanPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	var config models.Config
	data, err := os.ReadFile(cleanedPath) // #nosec G304 - path is validated
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config file").
				WithContext("path", cleanedPath)
		}
	}

	ApplyDefaults(&config)
	return &config, nil
}

// Save writes config to the default location
func Save(config *models.Config) error {
	return SaveFile(GetConfigFile(), config)
}

// SaveFile writes config to path with owner-only permissions
func SaveFile(path string, config *models.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionSecure); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, common.FilePermissionSecure); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists reports whether the default config file exists
func Exists() bool {
	_, err := os.Stat(GetConfigFile())
	return err == nil
}

// ApplyDefaults fills every empty value with its default
func ApplyDefaults(c *models.Config) {
	setDefault(&c.Fabric.APIURL, "https://api.fabric.microsoft.com/v1")
	setDefault(&c.Fabric.OneLakeURL, "https://onelake.dfs.fabric.microsoft.com")
	setDefault(&c.Fabric.PowerBIURL, "https://api.powerbi.com/v1.0/myorg")
	setDefault(&c.Fabric.GraphURL, "https://graph.microsoft.com/v1.0")
	setDefault(&c.Fabric.Description, "Medallion lakehouse deployed by lakedeploy")

	setDefault(&c.Auth.Mode, "cli")
	setDefault(&c.Auth.TokenEnv, "FABRIC_TOKEN")

	setDefault(&c.Lakehouses.Prefix, "maag_")
	setDefault(&c.Lakehouses.Bronze, "bronze")
	setDefault(&c.Lakehouses.Silver, "silver")
	setDefault(&c.Lakehouses.Gold, "gold")
	setDefault(&c.Lakehouses.Folder, "lakehouses")

	if len(c.Folders) == 0 {
		c.Folders = []string{
			"lakehouses",
			"notebooks/bronze_to_silver",
			"notebooks/silver_to_gold",
			"notebooks/runners",
			"reports",
			"agents",
		}
	}

	setDefault(&c.Artifacts.Source, ".")
	setDefault(&c.Artifacts.NotebooksDir, "notebooks")
	setDefault(&c.Artifacts.DataDir, "data/samples")
	setDefault(&c.Artifacts.ReportsDir, "reports")
	setDefault(&c.Artifacts.EnvironmentDir, "environment")
	setDefault(&c.Artifacts.AgentDir, "agent")

	if len(c.Notebooks.Bindings) == 0 {
		c.Notebooks.Bindings = []models.NotebookBinding{
			{Dir: "bronze_to_silver", Lakehouse: "silver", Folder: "notebooks/bronze_to_silver"},
			{Dir: "silver_to_gold", Lakehouse: "gold", Folder: "notebooks/silver_to_gold"},
			{Dir: "runners", Lakehouse: "gold", Folder: "notebooks/runners"},
		}
	}
	if len(c.Notebooks.Runners) == 0 {
		c.Notebooks.Runners = []string{"run_bronze_to_silver", "run_silver_to_gold"}
	}
	setDefault(&c.Notebooks.JobTimeout, "2h")

	setDefault(&c.SampleData.TargetPath, "samples")

	setDefault(&c.Reports.Folder, "reports")
	setDefault(&c.Reports.ServerParameter, "Server")
	setDefault(&c.Reports.DatabaseParameter, "Database")

	setDefault(&c.Environment.Name, "maag_environment")
	setDefault(&c.Environment.PublishTimeout, "30m")

	setDefault(&c.DataAgent.Name, "maag_data_agent")
	setDefault(&c.DataAgent.Folder, "agents")

	setDefault(&c.Databricks.ItemName, "maag_databricks_catalog")

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 5
	}
	setDefault(&c.Retry.InitialDelay, "2s")
	setDefault(&c.Retry.MaxDelay, "60s")
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}

	setDefault(&c.Polling.Interval, "5s")
	setDefault(&c.Polling.Timeout, "30m")

	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// Validate checks that config is complete enough to deploy
func Validate(c *models.Config) error {
	if strings.TrimSpace(c.Fabric.Capacity) == "" {
		return errors.ConfigError("fabric capacity name is required", "fabric.capacity")
	}
	if strings.TrimSpace(c.Fabric.Workspace) == "" {
		return errors.ConfigError("fabric workspace name is required", "fabric.workspace")
	}

	for field, value := range map[string]string{
		"fabric.api_url":     c.Fabric.APIURL,
		"fabric.onelake_url": c.Fabric.OneLakeURL,
		"fabric.powerbi_url": c.Fabric.PowerBIURL,
		"fabric.graph_url":   c.Fabric.GraphURL,
	} {
		u, err := url.Parse(value)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return errors.ConfigError(fmt.Sprintf("%s must be an absolute URL", field), field)
		}
	}

	switch c.Auth.Mode {
	case "cli", "token":
	case "service_principal":
		if c.Auth.TenantID == "" || c.Auth.ClientID == "" {
			return errors.ConfigError("service_principal auth requires tenant_id and client_id", "auth")
		}
	default:
		return errors.ConfigError(fmt.Sprintf("unknown auth mode %q", c.Auth.Mode), "auth.mode")
	}

	for field, value := range map[string]string{
		"retry.initial_delay":         c.Retry.InitialDelay,
		"retry.max_delay":             c.Retry.MaxDelay,
		"polling.interval":            c.Polling.Interval,
		"polling.timeout":             c.Polling.Timeout,
		"notebooks.job_timeout":       c.Notebooks.JobTimeout,
		"environment.publish_timeout": c.Environment.PublishTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return errors.ConfigError(fmt.Sprintf("%s is not a valid duration: %q", field, value), field)
		}
	}

	tiers := map[string]bool{"bronze": true, "silver": true, "gold": true}
	for _, b := range c.Notebooks.Bindings {
		if !tiers[b.Lakehouse] {
			return errors.ConfigError(fmt.Sprintf("notebook binding %q targets unknown lakehouse %q", b.Dir, b.Lakehouse), "notebooks.bindings")
		}
	}

	known := make(map[string]bool, len(StepNames))
	for _, name := range StepNames {
		known[name] = true
	}
	for _, name := range c.Steps.Skip {
		if !known[name] {
			return errors.ConfigError(fmt.Sprintf("unknown step %q in steps.skip", name), "steps.skip")
		}
	}

	if c.Databricks.Enabled && (c.Databricks.Host == "" || c.Databricks.Catalog == "" || c.Databricks.ConnectionID == "") {
		return errors.ConfigError("databricks integration requires host, catalog and connection_id", "databricks")
	}

	return nil
}

// LakehouseName returns the full display name for a tier ("bronze", "silver", "gold")
func LakehouseName(c *models.Config, tier string) string {
	var name string
	switch tier {
	case "bronze":
		name = c.Lakehouses.Bronze
	case "silver":
		name = c.Lakehouses.Silver
	case "gold":
		name = c.Lakehouses.Gold
	default:
		name = tier
	}
	return c.Lakehouses.Prefix + name
}

// Duration parses a duration that Validate has already checked
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// RetryConfig converts the serialised retry policy
func RetryConfig(c *models.Config) *errors.RetryConfig {
	rc := errors.DefaultRetryConfig()
	rc.MaxRetries = c.Retry.MaxRetries
	rc.InitialDelay = Duration(c.Retry.InitialDelay, rc.InitialDelay)
	rc.MaxDelay = Duration(c.Retry.MaxDelay, rc.MaxDelay)
	if c.Retry.Multiplier > 0 {
		rc.Multiplier = c.Retry.Multiplier
	}
	return rc
}
