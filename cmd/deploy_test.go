package cmd

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakedeploy/internal/fabric"
	"lakedeploy/internal/history"
	"lakedeploy/internal/testutil"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

func replyCapacities(server *testutil.FakeServer) {
	server.Reply(http.MethodGet, "/v1/capacities", http.StatusOK, map[string]interface{}{
		"value": []fabric.Capacity{{ID: "cap-1", DisplayName: "fabriccapacity01", State: "Active"}},
	})
}

func TestDeployDryRun(t *testing.T) {
	setupCmdTest(t)
	server := useFakeServer(t)
	replyCapacities(server)
	server.Reply(http.MethodGet, "/v1/workspaces", http.StatusOK, map[string]interface{}{"value": []fabric.Workspace{}})
	path := writeConfig(t, nil)
	metricsFile := filepath.Join(t.TempDir(), "lakedeploy.prom")

	out, err := executeCommand(t, "deploy", "--config", path, "--dry-run", "--metrics-file", metricsFile)
	require.NoError(t, err)

	assert.Contains(t, out, "Deploying medallion lakehouse (dry run)")
	assert.Contains(t, out, "[dry-run] create workspace 'Sales Analytics' on capacity 'fabriccapacity01'")
	assert.Contains(t, out, "Dry run finished; nothing was changed")
	assert.Empty(t, server.MutatingRequests())

	hist, err := history.NewManager(historyDir(), 0)
	require.NoError(t, err)
	records := hist.List("Sales Analytics", 0)
	require.Len(t, records, 1)
	assert.True(t, records[0].DryRun)

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "lakedeploy_step_duration_seconds")
}

func TestDeployRunsAgainAfterEarlierTest(t *testing.T) {
	for _, name := range []string{"first", "second"} {
		t.Run(name, func(t *testing.T) {
			setupCmdTest(t)
			server := useFakeServer(t)
			replyCapacities(server)
			server.Reply(http.MethodGet, "/v1/workspaces", http.StatusOK, map[string]interface{}{"value": []fabric.Workspace{}})
			path := writeConfig(t, nil)

			out, err := executeCommand(t, "deploy", "--config", path, "--dry-run")
			require.NoError(t, err)
			assert.Contains(t, out, "Dry run finished; nothing was changed")
		})
	}
}

func TestDeployFlagsOverrideConfig(t *testing.T) {
	setupCmdTest(t)
	server := useFakeServer(t)
	server.Reply(http.MethodGet, "/v1/capacities", http.StatusOK, map[string]interface{}{
		"value": []fabric.Capacity{{ID: "cap-9", DisplayName: "othercapacity", State: "Active"}},
	})
	server.Reply(http.MethodGet, "/v1/workspaces", http.StatusOK, map[string]interface{}{"value": []fabric.Workspace{}})
	path := writeConfig(t, nil)

	out, err := executeCommand(t, "deploy", "--config", path, "--dry-run",
		"--capacity", "othercapacity", "--workspace", "Finance")
	require.NoError(t, err)
	assert.Contains(t, out, "[dry-run] create workspace 'Finance' on capacity 'othercapacity'")
}

func TestDeployRequiresWorkspace(t *testing.T) {
	setupCmdTest(t)
	path := writeConfig(t, func(cfg *models.Config) { cfg.Fabric.Workspace = "" })

	_, err := executeCommand(t, "deploy", "--config", path, "--dry-run")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
}

func TestDeployConfirmation(t *testing.T) {
	p := setupCmdTest(t)
	p.confirms = []bool{false}
	path := writeConfig(t, nil)

	out, err := executeCommand(t, "deploy", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Deployment cancelled")
	assert.Equal(t, []string{"Deploy to workspace 'Sales Analytics'?"}, p.asked)
}

func TestDeployResume(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		setupCmdTest(t)
		path := writeConfig(t, nil)

		_, err := executeCommand(t, "deploy", "--config", path, "--resume", "nope", "--yes")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeNotFound, errors.GetErrorCode(err))
	})

	t.Run("completed deployment", func(t *testing.T) {
		setupCmdTest(t)
		path := writeConfig(t, nil)
		hist, err := history.NewManager(historyDir(), 0)
		require.NoError(t, err)
		rec := &models.DeploymentRecord{Workspace: "Sales Analytics", State: models.StateCompleted}
		require.NoError(t, hist.Record(rec))

		out, err := executeCommand(t, "deploy", "--config", path, "--resume", rec.ID[:8], "--yes")
		require.NoError(t, err)
		assert.Contains(t, out, "already completed")
	})
}

func TestDestroyCommand(t *testing.T) {
	workspaces := map[string]interface{}{
		"value": []fabric.Workspace{{ID: "ws-1", DisplayName: "Sales Analytics"}},
	}

	t.Run("name mismatch cancels", func(t *testing.T) {
		p := setupCmdTest(t)
		p.inputs = []string{"Sales"}
		path := writeConfig(t, nil)

		out, err := executeCommand(t, "destroy", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Destroy cancelled")
	})

	t.Run("typed name deletes", func(t *testing.T) {
		p := setupCmdTest(t)
		p.inputs = []string{"Sales Analytics"}
		server := useFakeServer(t)
		server.Reply(http.MethodGet, "/v1/workspaces", http.StatusOK, workspaces)
		server.Reply(http.MethodDelete, "/v1/workspaces/ws-1", http.StatusOK, nil)
		path := writeConfig(t, nil)

		out, err := executeCommand(t, "destroy", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted workspace 'Sales Analytics'")
		assert.Equal(t, 1, server.Count(http.MethodDelete, "/v1/workspaces/ws-1"))
	})

	t.Run("dry run", func(t *testing.T) {
		setupCmdTest(t)
		server := useFakeServer(t)
		server.Reply(http.MethodGet, "/v1/workspaces", http.StatusOK, workspaces)
		path := writeConfig(t, nil)

		out, err := executeCommand(t, "destroy", "--config", path, "--dry-run", "--workspace", "Sales Analytics")
		require.NoError(t, err)
		assert.Contains(t, out, "[dry-run] delete workspace 'Sales Analytics' (ws-1)")
		assert.Empty(t, server.MutatingRequests())
	})

	t.Run("no workspace", func(t *testing.T) {
		setupCmdTest(t)
		path := writeConfig(t, func(cfg *models.Config) { cfg.Fabric.Workspace = "" })

		_, err := executeCommand(t, "destroy", "--config", path, "--yes")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
	})
}
