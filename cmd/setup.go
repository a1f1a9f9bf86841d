package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"lakedeploy/internal/config"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
)

var setupOutput string

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create or update the configuration interactively",
	Long: `Walk through the settings a deployment needs (capacity, workspace, authentication,
artifact source and optional components) and save them as YAML.

Existing values are offered as defaults.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().StringVarP(&setupOutput, "output", "o", "", "where to save the config (default: the config file in effect)")
}

func runSetup(cmd *cobra.Command, args []string) error {
	console := consoleFor(cmd)
	path := setupOutput
	if path == "" {
		path = configFile()
	}

	defaults, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		overwrite, err := prompter.Confirm("Configuration "+path+" exists. Update it?", true)
		if err != nil {
			return err
		}
		if !overwrite {
			console.Info("Setup cancelled")
			return nil
		}
	}

	cfg, err := ui.NewSetupWizard(prompter, console).Run(defaults)
	if errors.HasCode(err, errors.ErrCodeJobCancelled) {
		console.Info("Setup cancelled; nothing was saved")
		return nil
	}
	if err != nil {
		return err
	}

	if err := config.SaveFile(path, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "failed to save configuration").WithContext("path", path)
	}
	console.Success("Configuration saved to " + path)
	console.Info("Run 'lakedeploy deploy --dry-run' to preview the deployment")
	return nil
}
