package cmd

import (
	"github.com/spf13/cobra"

	"lakedeploy/internal/deploy"
)

var (
	runWorkspace string
	runNotebooks []string
	runDryRun    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the runner notebooks against an existing workspace",
	Long: `Run the runner notebooks (notebooks.runners) of an already deployed workspace,
one at a time, waiting for each job to finish. Nothing else is deployed.`,
	Example: `  lakedeploy run
  lakedeploy run --notebook run_silver_to_gold`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "workspace name")
	runCmd.Flags().StringSliceVar(&runNotebooks, "notebook", nil, "runner notebooks to run instead of notebooks.runners")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "show which notebooks would run")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	if cmd.Flags().Changed("workspace") {
		s.cfg.Fabric.Workspace = runWorkspace
	}
	if s.cfg.Fabric.Workspace == "" {
		return errNoWorkspace()
	}
	if len(runNotebooks) > 0 {
		s.cfg.Notebooks.Runners = runNotebooks
	}

	s.console.Header("Running notebooks in " + s.cfg.Fabric.Workspace)
	return execute(cmd, s, deploy.RunOptions{Only: []string{"pipeline"}}, runDryRun)
}
