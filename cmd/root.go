package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lakedeploy/internal/config"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
)

var (
	cfgFile string
	azdEnv  string
	verbose bool
	quiet   bool

	rootCmd = &cobra.Command{
		Use:   "lakedeploy",
		Short: "Deploy a medallion lakehouse to Microsoft Fabric",
		Long: `lakedeploy provisions a bronze/silver/gold lakehouse solution in Microsoft Fabric:
workspace, lakehouses, notebooks, sample data, reports, a Spark environment and a data agent.

Deployments are recorded locally and can be resumed after a failure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the command tree and exits with the command's status
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	code := reportError(err, ui.NewConsole(false, false), errors.GetGlobalErrorHandler())
	_ = errors.GetGlobalErrorHandler().Close()
	os.Exit(code)
}

// reportError prints err and returns the exit code. Missing permissions are a
// setup problem, not a failure: the remediation is printed and the exit code is 0.
func reportError(err error, console *ui.Console, handler *errors.ErrorHandler) int {
	if err == nil {
		return 0
	}

	if errors.HasCode(err, errors.ErrCodePermissionDenied) {
		console.Remediation(err)
		return 0
	}

	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		console.Error(err.Error())
		return 1
	}
	handler.Handle(err)
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./lakedeploy.yaml or ~/.lakedeploy/config.yaml)")
	flags.StringVar(&azdEnv, "azd-env", "", "azd environment whose .azure/<name>/.env values override the config")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only print errors")

	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
}

func initConfig() {
	viper.SetEnvPrefix("lakedeploy")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return
	}
	viper.SetConfigName("lakedeploy")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
}

// configFile returns the config file in effect: --config, LAKEDEPLOY_CONFIG,
// ./lakedeploy.yaml, then ~/.lakedeploy/config.yaml
func configFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := viper.GetString("config"); env != "" {
		return env
	}
	if err := viper.ReadInConfig(); err == nil {
		return viper.ConfigFileUsed()
	}
	return config.GetConfigFile()
}

func consoleFor(cmd *cobra.Command) *ui.Console {
	return &ui.Console{
		Out:     cmd.OutOrStdout(),
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
	}
}
