package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"lakedeploy/internal/deploy"
)

var (
	destroyWorkspace string
	destroyYes       bool
	destroyDryRun    bool
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete the deployed workspace and everything in it",
	Long: `Delete the workspace named in the config (or --workspace) with all its lakehouses,
notebooks, reports and other items. Deployment history entries for the workspace are
marked as destroyed.

You are asked to type the workspace name unless --yes is given.`,
	Args: cobra.NoArgs,
	RunE: runDestroy,
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().StringVar(&destroyWorkspace, "workspace", "", "workspace name")
	destroyCmd.Flags().BoolVarP(&destroyYes, "yes", "y", false, "do not ask for confirmation")
	destroyCmd.Flags().BoolVar(&destroyDryRun, "dry-run", false, "only check that the workspace exists")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	name := s.cfg.Fabric.Workspace
	if cmd.Flags().Changed("workspace") {
		name = destroyWorkspace
	}
	if name == "" {
		return errNoWorkspace()
	}

	if !destroyDryRun && !destroyYes {
		s.console.Warning(fmt.Sprintf("This permanently deletes workspace '%s' and all of its items", name))
		typed, err := prompter.Input("Type the workspace name to confirm:", "", "", false)
		if err != nil {
			return err
		}
		if typed != name {
			s.console.Info("Destroy cancelled")
			return nil
		}
	}

	clients, err := newClients(s.cfg, s.obs)
	if err != nil {
		return err
	}

	res, err := deploy.Destroy(cmd.Context(), clients.Fabric, s.history, name, destroyDryRun)
	if err != nil {
		return err
	}
	if !res.Deleted {
		s.console.DryRun("delete workspace '%s' (%s)", name, res.WorkspaceID)
		return nil
	}
	s.console.Success(fmt.Sprintf("Deleted workspace '%s'", name))
	return nil
}
