package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

func TestGetConfigFile(t *testing.T) {
	t.Setenv("LAKEDEPLOY_CONFIG", "")
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".lakedeploy", "config.yaml"), GetConfigFile())

	custom := filepath.Join(t.TempDir(), "custom.yaml")
	t.Setenv("LAKEDEPLOY_CONFIG", custom)
	assert.Equal(t, custom, GetConfigFile())
	assert.Equal(t, filepath.Dir(custom), GetConfigPath())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := &models.Config{
		Fabric: models.Fabric{
			Capacity:  "fabriccap01",
			Workspace: "UDF Demo",
			Admins:    []string{"admin@contoso.com"},
		},
		Databricks: models.Databricks{Enabled: true, Host: "https://adb-1.azuredatabricks.net"},
	}
	require.NoError(t, SaveFile(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fabriccap01", loaded.Fabric.Capacity)
	assert.Equal(t, "UDF Demo", loaded.Fabric.Workspace)
	assert.Equal(t, []string{"admin@contoso.com"}, loaded.Fabric.Admins)
	assert.True(t, loaded.Databricks.Enabled)

	// defaults applied on load
	assert.Equal(t, "https://api.fabric.microsoft.com/v1", loaded.Fabric.APIURL)
	assert.Equal(t, "cli", loaded.Auth.Mode)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "maag_", cfg.Lakehouses.Prefix)
	assert.Equal(t, []string{"run_bronze_to_silver", "run_silver_to_gold"}, cfg.Notebooks.Runners)
	assert.Len(t, cfg.Notebooks.Bindings, 3)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, "maag_gold", LakehouseName(cfg, "gold"))
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fabric: [unclosed"), 0600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
}

func TestValidate(t *testing.T) {
	valid := func() *models.Config {
		c := &models.Config{Fabric: models.Fabric{Capacity: "cap", Workspace: "ws"}}
		ApplyDefaults(c)
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*models.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*models.Config) {}},
		{name: "missing capacity", mutate: func(c *models.Config) { c.Fabric.Capacity = "" }, wantErr: "capacity"},
		{name: "missing workspace", mutate: func(c *models.Config) { c.Fabric.Workspace = " " }, wantErr: "workspace"},
		{name: "relative api url", mutate: func(c *models.Config) { c.Fabric.APIURL = "/v1" }, wantErr: "fabric.api_url"},
		{name: "unknown auth mode", mutate: func(c *models.Config) { c.Auth.Mode = "magic" }, wantErr: "unknown auth mode"},
		{
			name:    "service principal without client",
			mutate:  func(c *models.Config) { c.Auth.Mode = "service_principal"; c.Auth.TenantID = "t" },
			wantErr: "tenant_id and client_id",
		},
		{name: "bad duration", mutate: func(c *models.Config) { c.Polling.Interval = "soon" }, wantErr: "polling.interval"},
		{
			name: "bad binding",
			mutate: func(c *models.Config) {
				c.Notebooks.Bindings = append(c.Notebooks.Bindings, models.NotebookBinding{Dir: "x", Lakehouse: "platinum"})
			},
			wantErr: "platinum",
		},
		{name: "unknown skipped step", mutate: func(c *models.Config) { c.Steps.Skip = []string{"coffee"} }, wantErr: "coffee"},
		{
			name:    "databricks incomplete",
			mutate:  func(c *models.Config) { c.Databricks.Enabled = true; c.Databricks.Host = "https://adb" },
			wantErr: "databricks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRetryConfig(t *testing.T) {
	c := &models.Config{}
	ApplyDefaults(c)
	c.Retry.InitialDelay = "250ms"

	rc := RetryConfig(c)
	assert.Equal(t, 5, rc.MaxRetries)
	assert.Equal(t, "250ms", rc.InitialDelay.String())
	assert.Equal(t, "1m0s", rc.MaxDelay.String())
	assert.NotNil(t, rc.RetryableError)
}

func TestAzdEnvironmentOverrides(t *testing.T) {
	root := t.TempDir()
	envFile := AzdEnvFile(root, "dev")
	require.NoError(t, os.MkdirAll(filepath.Dir(envFile), 0700))
	require.NoError(t, os.WriteFile(envFile, []byte(
		"FABRIC_CAPACITY_NAME=\"capfromazd\"\n"+
			"FABRIC_WORKSPACE_NAME=\"ws-from-azd\"\n"+
			"FABRIC_ADMIN_MEMBERS=\"a@contoso.com, Platform Admins ,\"\n"), 0600))

	// process environment wins over the file
	t.Setenv("FABRIC_WORKSPACE_NAME", "ws-from-shell")

	environment, err := LoadEnvironment(root, "dev")
	require.NoError(t, err)

	overrides, err := ParseOverrides(environment)
	require.NoError(t, err)

	c := &models.Config{Fabric: models.Fabric{Capacity: "fromfile", Workspace: "fromfile"}}
	overrides.Apply(c)

	assert.Equal(t, "capfromazd", c.Fabric.Capacity)
	assert.Equal(t, "ws-from-shell", c.Fabric.Workspace)
	assert.Equal(t, []string{"a@contoso.com", "Platform Admins"}, c.Fabric.Admins)
}

func TestLoadEnvironmentMissingAzdFile(t *testing.T) {
	_, err := LoadEnvironment(t.TempDir(), "nope")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetErrorCode(err))
}
