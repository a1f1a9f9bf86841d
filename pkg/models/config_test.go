package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigFromYAML(t *testing.T) {
	doc := `
fabric:
  capacity: fabriccapacity01
  workspace: Unified Data Foundation
  admins:
    - admin@contoso.com
    - Data Platform Admins
lakehouses:
  prefix: maag_
  enable_schemas: true
notebooks:
  bindings:
    - dir: bronze_to_silver
      lakehouse: silver
  runners: [run_bronze_to_silver, run_silver_to_gold]
steps:
  skip: [reports]
`
	var config Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &config))

	assert.Equal(t, "fabriccapacity01", config.Fabric.Capacity)
	assert.Equal(t, []string{"admin@contoso.com", "Data Platform Admins"}, config.Fabric.Admins)
	assert.True(t, config.Lakehouses.EnableSchemas)
	assert.Equal(t, "silver", config.Notebooks.Bindings[0].Lakehouse)
	assert.Len(t, config.Notebooks.Runners, 2)
	assert.Equal(t, []string{"reports"}, config.Steps.Skip)
}

func TestDeploymentRecordSteps(t *testing.T) {
	now := time.Now()
	record := DeploymentRecord{
		ID: "deploy-1",
		Steps: []StepRecord{
			{Name: "workspace", State: StateCompleted, EndTime: &now},
			{Name: "admins", State: StateFailed},
		},
	}

	assert.True(t, record.Completed("workspace"))
	assert.False(t, record.Completed("admins"))
	assert.False(t, record.Completed("folders"))
	assert.Nil(t, record.Step("folders"))

	record.Step("admins").State = StateCompleted
	assert.True(t, record.Completed("admins"))
}
