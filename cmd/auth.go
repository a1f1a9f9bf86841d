package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lakedeploy/internal/auth"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

var (
	spLoginClientID    string
	spLoginTenantID    string
	spLoginSecretStdin bool
)

var (
	credentialStore = func() (*auth.CredentialStore, error) {
		return auth.NewCredentialStore("")
	}
	newTokenChecker = func(cfg *models.Config) (tokenChecker, error) {
		return newTokenProvider(cfg)
	}
)

type tokenChecker interface {
	Mode() string
	Check(resources []string) []auth.CheckResult
}

var resourceNames = map[string]string{
	auth.ResourceFabric:     "Fabric",
	auth.ResourcePowerBI:    "Power BI",
	auth.ResourceGraph:      "Microsoft Graph",
	auth.ResourceStorage:    "OneLake storage",
	auth.ResourceDatabricks: "Azure Databricks",
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var authSPLoginCmd = &cobra.Command{
	Use:   "sp-login",
	Short: "Store a service principal client secret",
	Long: `Store the client secret of the service principal used with auth.mode
service_principal. The secret goes to the OS keyring, or to an encrypted file under
~/.lakedeploy/credentials when no keyring is available.

AZURE_CLIENT_SECRET, when set, takes precedence over the stored secret.`,
	Args: cobra.NoArgs,
	RunE: runSPLogin,
}

var authCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Acquire a token for every service a deployment uses",
	Args:  cobra.NoArgs,
	RunE:  runAuthCheck,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSPLoginCmd)
	authCmd.AddCommand(authCheckCmd)

	authSPLoginCmd.Flags().StringVar(&spLoginClientID, "client-id", "", "application (client) ID (default auth.client_id)")
	authSPLoginCmd.Flags().StringVar(&spLoginTenantID, "tenant-id", "", "directory (tenant) ID (default auth.tenant_id)")
	authSPLoginCmd.Flags().BoolVar(&spLoginSecretStdin, "secret-stdin", false, "read the secret from stdin instead of prompting")
}

func runSPLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	console := consoleFor(cmd)

	clientID := firstNonEmpty(spLoginClientID, cfg.Auth.ClientID)
	tenantID := firstNonEmpty(spLoginTenantID, cfg.Auth.TenantID)
	if clientID == "" {
		return errors.ConfigError("client ID is required", "auth.client_id").
			WithSuggestions("Pass --client-id or set auth.client_id in the config file")
	}

	var secret string
	if spLoginSecretStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read secret from stdin")
		}
		secret = strings.TrimSpace(line)
	} else {
		if secret, err = prompter.Password("Client secret:", "The secret value, not its ID"); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New(errors.ErrCodeInvalidInput, "client secret is empty")
	}

	store, err := credentialStore()
	if err != nil {
		return err
	}
	metadata := map[string]string{"client_id": clientID}
	if tenantID != "" {
		metadata["tenant_id"] = tenantID
	}
	if err := store.Store(auth.ServicePrincipalSecretName(clientID), "client_secret", secret, metadata); err != nil {
		return err
	}

	where := "encrypted credential file"
	if store.UsesKeyring() {
		where = "OS keyring"
	}
	console.Success(fmt.Sprintf("Stored client secret for %s in the %s", clientID, where))
	if cfg.Auth.Mode != auth.ModeServicePrincipal {
		console.Info("Set auth.mode to service_principal to use it")
	}
	return nil
}

func runAuthCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	console := consoleFor(cmd)

	checker, err := newTokenChecker(cfg)
	if err != nil {
		return err
	}

	resources := append([]string(nil), auth.AllResources...)
	if cfg.Databricks.Enabled {
		resources = append(resources, auth.ResourceDatabricks)
	}

	console.Header("Authentication check (" + checker.Mode() + ")")
	var failed []auth.CheckResult
	for _, res := range checker.Check(resources) {
		name := resourceNames[res.Resource]
		if res.Err != nil {
			console.Error(fmt.Sprintf("%s: %s", name, ui.ErrorText(res.Err)))
			failed = append(failed, res)
			continue
		}
		console.Success(fmt.Sprintf("%s (token valid until %s)", name, res.ExpiresAt.Local().Format("15:04")))
	}

	if len(failed) == 0 {
		return nil
	}
	first := failed[0].Err
	return errors.Wrap(first, errors.GetErrorCode(first),
		fmt.Sprintf("Could not acquire tokens for %d of %d services", len(failed), len(resources)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
