package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"lakedeploy/internal/history"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/models"
)

var (
	historyWorkspace string
	historyLimit     int
	historyExport    string
)

var historyCmd = &cobra.Command{
	Use:   "history [deployment-id]",
	Short: "Show recorded deployments",
	Long: `List recorded deployments, newest first, or show the steps and resources of one
deployment. IDs may be abbreviated to any unique prefix.`,
	Example: `  lakedeploy history
  lakedeploy history --workspace "Sales Analytics" --limit 5
  lakedeploy history 4f2a9c1e
  lakedeploy history --export deployments.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyWorkspace, "workspace", "", "only deployments of this workspace")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of deployments to list (0 for all)")
	historyCmd.Flags().StringVar(&historyExport, "export", "", "write the listed deployments to a JSON file")
}

func runHistory(cmd *cobra.Command, args []string) error {
	hist, err := history.NewManager(historyDir(), 0)
	if err != nil {
		return err
	}
	console := consoleFor(cmd)
	out := console.Writer()

	if len(args) == 1 {
		rec, err := hist.Get(args[0])
		if err != nil {
			return err
		}
		showRecord(console, rec)
		ui.RenderSteps(out, rec)
		return nil
	}

	if historyExport != "" {
		filter := func(rec *models.DeploymentRecord) bool {
			return historyWorkspace == "" || rec.Workspace == historyWorkspace
		}
		if err := hist.Export(historyExport, filter); err != nil {
			return err
		}
		console.Success("Exported deployment history to " + historyExport)
		return nil
	}

	records := hist.List(historyWorkspace, historyLimit)
	if len(records) == 0 {
		console.Info("No deployments recorded")
		return nil
	}
	ui.RenderHistory(out, records)
	return nil
}

func showRecord(console *ui.Console, rec *models.DeploymentRecord) {
	console.Header("Deployment " + rec.ID)
	console.KeyValue("Workspace", rec.Workspace)
	console.KeyValue("Capacity", rec.Capacity)
	state := ui.StateLabel(rec.State)
	if rec.DryRun {
		state += " (dry run)"
	}
	console.KeyValue("State", state)
	console.KeyValue("Started", rec.StartTime.Format("2006-01-02 15:04:05"))
	if rec.EndTime != nil {
		console.KeyValue("Finished", rec.EndTime.Format("2006-01-02 15:04:05"))
	}
	if rec.PreviousID != "" {
		console.KeyValue("Previous", rec.PreviousID)
	}
	if rec.ErrorMessage != "" {
		console.KeyValue("Error", rec.ErrorMessage)
	}
	if rec.State == models.StateFailed {
		console.Info(fmt.Sprintf("Resume with 'lakedeploy deploy --resume %s'", rec.ID))
	}
	console.Println()
}
