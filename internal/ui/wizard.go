package ui

import (
	"fmt"
	"strings"

	"lakedeploy/internal/artifacts"
	"lakedeploy/internal/config"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// SetupWizard walks through the settings needed for a first deployment
type SetupWizard struct {
	prompter    Prompter
	console     *Console
	currentStep int
	totalSteps  int
}

// NewSetupWizard creates a wizard driven by prompter
func NewSetupWizard(prompter Prompter, console *Console) *SetupWizard {
	return &SetupWizard{
		prompter:    prompter,
		console:     console,
		currentStep: 1,
		totalSteps:  4,
	}
}

// Run asks for each setting, starting from defaults (may be nil), and returns
// the completed config. It returns a JobCancelled error when the user declines
// the final review.
func (w *SetupWizard) Run(defaults *models.Config) (*models.Config, error) {
	cfg := &models.Config{}
	if defaults != nil {
		*cfg = *defaults
	}
	config.ApplyDefaults(cfg)

	w.console.Header("lakedeploy - Setup")

	for _, step := range []func(*models.Config) error{
		w.targetStep,
		w.authStep,
		w.artifactsStep,
		w.optionalStep,
	} {
		if err := step(cfg); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	w.review(cfg)
	ok, err := w.prompter.Confirm("Save this configuration?", true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeJobCancelled, "setup cancelled")
	}
	return cfg, nil
}

func (w *SetupWizard) targetStep(cfg *models.Config) error {
	w.showProgress("Target")

	var err error
	if cfg.Fabric.Capacity, err = w.prompter.Input("Fabric capacity name:", "The capacity the workspace is assigned to", cfg.Fabric.Capacity, true); err != nil {
		return err
	}
	if cfg.Fabric.Workspace, err = w.prompter.Input("Workspace name:", "Created when it does not exist", cfg.Fabric.Workspace, true); err != nil {
		return err
	}
	if cfg.Lakehouses.Prefix, err = w.prompter.Input("Lakehouse prefix:", "Prepended to bronze, silver and gold", cfg.Lakehouses.Prefix, false); err != nil {
		return err
	}

	admins, err := w.prompter.Input("Workspace admins (comma separated):", "User principal names, group names or object IDs", strings.Join(cfg.Fabric.Admins, ", "), false)
	if err != nil {
		return err
	}
	cfg.Fabric.Admins = splitList(admins)
	return nil
}

func (w *SetupWizard) authStep(cfg *models.Config) error {
	w.showProgress("Authentication")

	mode, err := w.prompter.Select("Authentication mode:", []string{"cli", "service_principal", "token"}, cfg.Auth.Mode)
	if err != nil {
		return err
	}
	cfg.Auth.Mode = mode

	switch mode {
	case "service_principal":
		if cfg.Auth.TenantID, err = w.prompter.Input("Tenant ID:", "", cfg.Auth.TenantID, true); err != nil {
			return err
		}
		if cfg.Auth.ClientID, err = w.prompter.Input("Client ID:", "The secret is stored in the keyring with 'lakedeploy auth sp-login'", cfg.Auth.ClientID, true); err != nil {
			return err
		}
	case "token":
		if cfg.Auth.TokenEnv, err = w.prompter.Input("Token environment variable:", "", cfg.Auth.TokenEnv, true); err != nil {
			return err
		}
	}
	return nil
}

func (w *SetupWizard) artifactsStep(cfg *models.Config) error {
	w.showProgress("Artifacts")

	var err error
	if cfg.Artifacts.Source, err = w.prompter.Input("Artifact source:", "Local directory or git URL", cfg.Artifacts.Source, true); err != nil {
		return err
	}
	if artifacts.IsGitURL(cfg.Artifacts.Source) {
		if cfg.Artifacts.Ref, err = w.prompter.Input("Branch or tag:", "Leave empty for the default branch", cfg.Artifacts.Ref, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *SetupWizard) optionalStep(cfg *models.Config) error {
	w.showProgress("Optional steps")

	skippable := []string{"sample-data", "reports", "environment", "data-agent"}
	skip, err := w.prompter.MultiSelect("Steps to skip:", skippable, intersect(cfg.Steps.Skip, skippable))
	if err != nil {
		return err
	}
	cfg.Steps.Skip = skip

	enabled, err := w.prompter.Confirm("Mirror an Azure Databricks catalog?", cfg.Databricks.Enabled)
	if err != nil {
		return err
	}
	cfg.Databricks.Enabled = enabled
	if !enabled {
		return nil
	}

	if cfg.Databricks.Host, err = w.prompter.Input("Databricks workspace URL:", "", cfg.Databricks.Host, true); err != nil {
		return err
	}
	if cfg.Databricks.Catalog, err = w.prompter.Input("Catalog name:", "", cfg.Databricks.Catalog, true); err != nil {
		return err
	}
	if cfg.Databricks.ConnectionID, err = w.prompter.Input("Fabric connection ID:", "The connection used by the mirrored catalog", cfg.Databricks.ConnectionID, true); err != nil {
		return err
	}
	return nil
}

func (w *SetupWizard) review(cfg *models.Config) {
	w.console.Section("Review")
	w.console.KeyValue("Capacity", cfg.Fabric.Capacity)
	w.console.KeyValue("Workspace", cfg.Fabric.Workspace)
	w.console.KeyValue("Lakehouses", fmt.Sprintf("%s, %s, %s",
		config.LakehouseName(cfg, "bronze"),
		config.LakehouseName(cfg, "silver"),
		config.LakehouseName(cfg, "gold"),
	))
	w.console.KeyValue("Admins", strings.Join(cfg.Fabric.Admins, ", "))
	w.console.KeyValue("Auth", cfg.Auth.Mode)
	w.console.KeyValue("Artifacts", cfg.Artifacts.Source)
	if len(cfg.Steps.Skip) > 0 {
		w.console.KeyValue("Skipped steps", strings.Join(cfg.Steps.Skip, ", "))
	}
	if cfg.Databricks.Enabled {
		w.console.KeyValue("Databricks", cfg.Databricks.Catalog+" @ "+cfg.Databricks.Host)
	}
	w.console.Println()
}

func (w *SetupWizard) showProgress(title string) {
	w.console.Printf("\n%s %s\n", ColorDim(fmt.Sprintf("[%d/%d]", w.currentStep, w.totalSteps)), ColorBold(title))
	w.currentStep++
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intersect(values, allowed []string) []string {
	var out []string
	for _, v := range values {
		for _, a := range allowed {
			if v == a {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
