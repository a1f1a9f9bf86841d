package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// Overrides are environment values that take precedence over the config file.
// Names follow the azd environment keys written by the provisioning templates.
type Overrides struct {
	Capacity       string   `env:"FABRIC_CAPACITY_NAME"`
	Workspace      string   `env:"FABRIC_WORKSPACE_NAME"`
	Admins         []string `env:"FABRIC_ADMIN_MEMBERS" envSeparator:","`
	TenantID       string   `env:"AZURE_TENANT_ID"`
	ClientID       string   `env:"AZURE_CLIENT_ID"`
	AuthMode       string   `env:"LAKEDEPLOY_AUTH_MODE"`
	Artifacts      string   `env:"LAKEDEPLOY_ARTIFACTS"`
	DatabricksHost string   `env:"DATABRICKS_HOST"`
	LogLevel       string   `env:"LAKEDEPLOY_LOG_LEVEL"`
}

// AzdEnvFile returns the path of the azd environment file for name under root
func AzdEnvFile(root, name string) string {
	return filepath.Join(root, ".azure", name, ".env")
}

// LoadEnvironment merges the process environment with an optional azd .env file.
// Process variables win over file values.
func LoadEnvironment(azdRoot, azdEnv string) (map[string]string, error) {
	merged := make(map[string]string)

	if azdEnv == "" {
		azdEnv = os.Getenv("AZURE_ENV_NAME")
	}
	if azdEnv != "" {
		path := AzdEnvFile(azdRoot, azdEnv)
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigNotFound, "failed to read azd environment file").
				WithContext("path", path).
				WithSuggestions("Run 'azd env list' to see available environments")
		}
		for k, v := range values {
			merged[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}

	return merged, nil
}

// ParseOverrides extracts Overrides from an environment map
func ParseOverrides(environment map[string]string) (*Overrides, error) {
	var o Overrides
	if err := env.Parse(&o, env.Options{Environment: environment}); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse environment overrides")
	}
	return &o, nil
}

// Apply copies every non-empty override onto c
func (o *Overrides) Apply(c *models.Config) {
	if o.Capacity != "" {
		c.Fabric.Capacity = o.Capacity
	}
	if o.Workspace != "" {
		c.Fabric.Workspace = o.Workspace
	}
	if admins := cleanList(o.Admins); len(admins) > 0 {
		c.Fabric.Admins = admins
	}
	if o.TenantID != "" {
		c.Auth.TenantID = o.TenantID
	}
	if o.ClientID != "" {
		c.Auth.ClientID = o.ClientID
	}
	if o.AuthMode != "" {
		c.Auth.Mode = o.AuthMode
	}
	if o.Artifacts != "" {
		c.Artifacts.Source = o.Artifacts
	}
	if o.DatabricksHost != "" {
		c.Databricks.Host = o.DatabricksHost
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
