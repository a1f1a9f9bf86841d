package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lakedeploy/internal/auth"
	"lakedeploy/internal/config"
	"lakedeploy/internal/deploy"
	"lakedeploy/internal/history"
	"lakedeploy/internal/observability"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/models"
)

// Seams replaced in tests
var (
	prompter   ui.Prompter = ui.NewSurveyPrompter()
	historyDir             = history.DefaultDir
	newClients             = func(cfg *models.Config, sys *observability.System) (*deploy.Clients, error) {
		tokens, err := newTokenProvider(cfg)
		if err != nil {
			return nil, err
		}
		return deploy.NewClients(cfg, tokens, sys.Logger, sys.Metrics), nil
	}
)

// session is what every command that talks to Fabric needs: config, console,
// observability and history
type session struct {
	cfg     *models.Config
	console *ui.Console
	obs     *observability.System
	history *history.Manager
}

type sessionOptions struct {
	metricsFile string
	traceFile   string
}

// openSession loads config with azd and environment overrides and starts observability.
// Callers apply their flag overrides and validate.
func openSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	sys, err := observability.Setup(cmd.Context(), observability.Options{
		Logging:     cfg.Logging,
		Verbose:     viper.GetBool("verbose"),
		MetricsFile: opts.metricsFile,
		TraceFile:   opts.traceFile,
		Version:     Version,
		Environment: azdEnv,
	})
	if err != nil {
		return nil, err
	}

	hist, err := history.NewManager(historyDir(), 0)
	if err != nil {
		_ = sys.Close(cmd.Context())
		return nil, err
	}

	sys.Logger.WithField("config", configFile()).Debug("configuration loaded")
	return &session{cfg: cfg, console: consoleFor(cmd), obs: sys, history: hist}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.obs.Close(context.WithoutCancel(ctx)); err != nil {
		s.console.Warning("Failed to flush observability output: " + err.Error())
	}
}

// loadConfig reads the config file and applies azd .env and process environment overrides
func loadConfig() (*models.Config, error) {
	cfg, err := config.LoadFile(configFile())
	if err != nil {
		return nil, err
	}

	environment, err := config.LoadEnvironment(".", azdEnv)
	if err != nil {
		return nil, err
	}
	overrides, err := config.ParseOverrides(environment)
	if err != nil {
		return nil, err
	}
	overrides.Apply(cfg)
	return cfg, nil
}

func newTokenProvider(cfg *models.Config) (*auth.Provider, error) {
	opts := auth.Options{}
	if cfg.Auth.Mode == auth.ModeServicePrincipal {
		store, err := credentialStore()
		if err != nil {
			return nil, err
		}
		opts.Secrets = store
	}
	return auth.NewProvider(cfg.Auth, opts)
}
