package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lakedeploy/internal/artifacts"
	"lakedeploy/internal/config"
	"lakedeploy/internal/deploy"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

var (
	deployCapacity    string
	deployWorkspace   string
	deployAdmins      []string
	deploySkip        []string
	deployResume      string
	deployDryRun      bool
	deployYes         bool
	deployMetricsFile string
	deployTraceFile   string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the medallion lakehouse to a Fabric workspace",
	Long: `Deploy the medallion lakehouse to a Fabric workspace.

Steps run in order: workspace, admins, folders, lakehouses, sample-data, notebooks,
pipeline, reports, environment, data-agent and databricks. Existing items are reused,
so deploying again updates the workspace in place.

A failed deployment can be resumed with --resume <deployment-id>; completed steps
are not run again.`,
	Example: `  lakedeploy deploy --capacity fabriccapacity01 --workspace "Sales Analytics"
  lakedeploy deploy --dry-run
  lakedeploy deploy --skip reports,environment --yes
  lakedeploy deploy --resume 4f2a9c1e`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	flags := deployCmd.Flags()
	flags.StringVar(&deployCapacity, "capacity", "", "Fabric capacity name")
	flags.StringVar(&deployWorkspace, "workspace", "", "workspace name")
	flags.StringSliceVar(&deployAdmins, "admins", nil, "workspace admins (UPN, object ID or group name)")
	flags.StringSliceVar(&deploySkip, "skip", nil, "steps to skip: "+strings.Join(config.StepNames, ", "))
	flags.StringVar(&deployResume, "resume", "", "resume a failed deployment by ID")
	flags.BoolVar(&deployDryRun, "dry-run", false, "show what would be deployed without changing anything")
	flags.BoolVarP(&deployYes, "yes", "y", false, "skip the confirmation prompt")
	flags.StringVar(&deployMetricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	flags.StringVar(&deployTraceFile, "trace-file", "", "write OpenTelemetry spans to this file")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{metricsFile: deployMetricsFile, traceFile: deployTraceFile})
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	applyTargetFlags(cmd, s.cfg)
	if err := config.Validate(s.cfg); err != nil {
		return err
	}

	var resume *models.DeploymentRecord
	if deployResume != "" {
		if resume, err = s.history.Get(deployResume); err != nil {
			return err
		}
		if resume.State == models.StateCompleted {
			s.console.Success(fmt.Sprintf("Deployment %s already completed", resume.ID))
			return nil
		}
	}

	skip := append(append([]string(nil), s.cfg.Steps.Skip...), deploySkip...)
	showPlan(s, skip, resume)

	if !deployDryRun && !deployYes {
		ok, err := prompter.Confirm(fmt.Sprintf("Deploy to workspace '%s'?", s.cfg.Fabric.Workspace), true)
		if err != nil {
			return err
		}
		if !ok {
			s.console.Info("Deployment cancelled")
			return nil
		}
	}

	return execute(cmd, s, deploy.RunOptions{Skip: skip, Resume: resume}, deployDryRun)
}

// execute opens the artifacts, builds the clients and runs the steps
func execute(cmd *cobra.Command, s *session, opts deploy.RunOptions, dryRun bool) error {
	source, err := artifacts.Open(cmd.Context(), s.cfg.Artifacts)
	if err != nil {
		return err
	}
	defer source.Close()

	clients, err := newClients(s.cfg, s.obs)
	if err != nil {
		return err
	}

	st := deploy.NewState(s.cfg, clients, source, s.console)
	st.DryRun = dryRun
	st.Logger = s.obs.Logger

	runner := deploy.NewRunner(deploy.RunnerConfig{
		History: s.history,
		Metrics: s.obs.Metrics,
		Logger:  s.obs.Logger,
	})

	rec, err := runner.Run(cmd.Context(), st, opts)
	if err != nil {
		return err
	}

	s.console.Println()
	if rec.DryRun {
		s.console.Success("Dry run finished; nothing was changed")
		return nil
	}
	s.console.Success(fmt.Sprintf("Deployment %s completed", rec.ID))
	if id := rec.Resources[deploy.TokenWorkspaceID]; id != "" {
		s.console.KeyValue("Workspace", fmt.Sprintf("%s (%s)", rec.Workspace, id))
	}
	if endpoint := rec.Resources[deploy.TokenSQLEndpoint]; endpoint != "" {
		s.console.KeyValue("SQL endpoint", endpoint)
	}
	return nil
}

// applyTargetFlags lets command-line flags win over config and environment
func applyTargetFlags(cmd *cobra.Command, cfg *models.Config) {
	flags := cmd.Flags()
	if flags.Changed("capacity") {
		cfg.Fabric.Capacity = deployCapacity
	}
	if flags.Changed("workspace") {
		cfg.Fabric.Workspace = deployWorkspace
	}
	if flags.Changed("admins") {
		cfg.Fabric.Admins = deployAdmins
	}
}

func showPlan(s *session, skip []string, resume *models.DeploymentRecord) {
	c := s.console
	title := "Deploying medallion lakehouse"
	if deployDryRun {
		title += " (dry run)"
	}
	c.Header(title)
	c.KeyValue("Capacity", s.cfg.Fabric.Capacity)
	c.KeyValue("Workspace", s.cfg.Fabric.Workspace)
	c.KeyValue("Artifacts", s.cfg.Artifacts.Source)
	if len(s.cfg.Fabric.Admins) > 0 {
		c.KeyValue("Admins", strings.Join(s.cfg.Fabric.Admins, ", "))
	}
	if len(skip) > 0 {
		c.KeyValue("Skipping", strings.Join(skip, ", "))
	}
	if resume != nil {
		c.KeyValue("Resuming", fmt.Sprintf("%s (%s)", resume.ID, resume.State))
	}
	c.Println()
}

// errNoWorkspace is returned by commands that need a workspace name
func errNoWorkspace() error {
	return errors.ConfigError("fabric workspace name is required", "fabric.workspace").
		WithSuggestions("Pass --workspace or set fabric.workspace in the config file")
}
