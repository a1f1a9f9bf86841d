package auth

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// Resource identifiers tokens are requested for
const (
	ResourceFabric     = "https://api.fabric.microsoft.com"
	ResourcePowerBI    = "https://analysis.windows.net/powerbi/api"
	ResourceGraph      = "https://graph.microsoft.com"
	ResourceStorage    = "https://storage.azure.com"
	ResourceDatabricks = "2ff814a6-3304-4ab8-85cb-cd0e6f879c1d"
)

// Auth modes
const (
	ModeCLI              = "cli"
	ModeServicePrincipal = "service_principal"
	ModeToken            = "token"
)

const defaultAuthority = "https://login.microsoftonline.com"

// AllResources lists every resource a full deployment touches
var AllResources = []string{ResourceFabric, ResourcePowerBI, ResourceGraph, ResourceStorage}

// CommandRunner executes an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// SecretGetter looks up stored secrets
type SecretGetter interface {
	Get(name string) (*Credential, error)
}

// Options carries the injectable dependencies of a Provider
type Options struct {
	Runner       CommandRunner
	Secrets      SecretGetter
	AuthorityURL string
	LookupEnv    func(string) (string, bool)
	CLITimeout   time.Duration
}

// Provider hands out cached oauth2 token sources per resource
type Provider struct {
	cfg     models.Auth
	opts    Options
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewProvider creates a token provider for the configured auth mode
func NewProvider(cfg models.Auth, opts Options) (*Provider, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeCLI
	}
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	if opts.AuthorityURL == "" {
		opts.AuthorityURL = defaultAuthority
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.CLITimeout == 0 {
		opts.CLITimeout = time.Minute
	}

	switch cfg.Mode {
	case ModeCLI, ModeToken:
	case ModeServicePrincipal:
		if cfg.TenantID == "" || cfg.ClientID == "" {
			return nil, errors.ConfigError("service_principal auth requires tenant_id and client_id", "auth")
		}
	default:
		return nil, errors.ConfigError("unknown auth mode: "+cfg.Mode, "auth.mode")
	}

	return &Provider{cfg: cfg, opts: opts, sources: make(map[string]oauth2.TokenSource)}, nil
}

// Mode returns the active auth mode
func (p *Provider) Mode() string {
	return p.cfg.Mode
}

// TokenSource returns a caching token source for resource
func (p *Provider) TokenSource(resource string) oauth2.TokenSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.sources[resource]; ok {
		return ts
	}

	var base oauth2.TokenSource
	switch p.cfg.Mode {
	case ModeServicePrincipal:
		base = &servicePrincipalSource{provider: p, resource: resource}
	case ModeToken:
		base = &envTokenSource{provider: p, resource: resource}
	default:
		base = &azureCLISource{provider: p, resource: resource}
	}

	ts := oauth2.ReuseTokenSource(nil, base)
	p.sources[resource] = ts
	return ts
}

// CheckResult reports the outcome of acquiring a token for one resource
type CheckResult struct {
	Resource  string
	ExpiresAt time.Time
	Err       error
}

// Check acquires a token for every resource and reports the outcome
func (p *Provider) Check(resources []string) []CheckResult {
	results := make([]CheckResult, 0, len(resources))
	for _, resource := range resources {
		tok, err := p.TokenSource(resource).Token()
		result := CheckResult{Resource: resource, Err: err}
		if err == nil {
			result.ExpiresAt = tok.Expiry
		}
		results = append(results, result)
	}
	return results
}

// ServicePrincipalSecretName is the credential store key for a client secret
func ServicePrincipalSecretName(clientID string) string {
	return "sp-" + clientID
}

// Azure CLI

type azureCLISource struct {
	provider *Provider
	resource string
}

type cliToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
	ExpiresUnix int64  `json:"expires_on"`
	TokenType   string `json:"tokenType"`
}

func (s *azureCLISource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.provider.opts.CLITimeout)
	defer cancel()

	args := []string{"account", "get-access-token", "--resource", s.resource, "--output", "json"}
	if s.provider.cfg.TenantID != "" {
		args = append(args, "--tenant", s.provider.cfg.TenantID)
	}

	out, err := s.provider.opts.Runner(ctx, "az", args...)
	if err != nil {
		return nil, cliError(err, s.resource)
	}

	var ct cliToken
	if err := json.Unmarshal(out, &ct); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTokenUnavailable, "unexpected Azure CLI token output")
	}
	if ct.AccessToken == "" {
		return nil, errors.New(errors.ErrCodeTokenUnavailable, "Azure CLI returned an empty access token").
			WithContext("resource", s.resource)
	}

	return &oauth2.Token{
		AccessToken: ct.AccessToken,
		TokenType:   "Bearer",
		Expiry:      ct.expiry(),
	}, nil
}

func (ct cliToken) expiry() time.Time {
	if ct.ExpiresUnix > 0 {
		return time.Unix(ct.ExpiresUnix, 0)
	}
	for _, layout := range []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, ct.ExpiresOn, time.Local); err == nil {
			return t
		}
	}
	return time.Now().Add(5 * time.Minute)
}

func cliError(err error, resource string) error {
	if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
		return errors.Wrap(err, errors.ErrCodeTokenUnavailable, "Azure CLI (az) is not installed").
			WithSuggestions("Install the Azure CLI: https://learn.microsoft.com/cli/azure/install-azure-cli")
	}

	appErr := errors.Wrap(err, errors.ErrCodeAuthenticationFailed, "Azure CLI could not issue a token").
		WithContext("resource", resource)
	if strings.Contains(err.Error(), "az login") {
		appErr = appErr.WithSuggestions("Run 'az login' and retry")
	} else {
		appErr = appErr.WithSuggestions(
			"Run 'az login' and retry",
			"Check that the signed-in account belongs to the target tenant",
		)
	}
	return appErr
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - fixed az arguments
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			if _, ok := err.(*exec.Error); !ok {
				return nil, errors.Wrap(err, errors.ErrCodeAuthenticationFailed, msg)
			}
		}
		return nil, err
	}
	return out, nil
}

// Service principal

type servicePrincipalSource struct {
	provider *Provider
	resource string
}

func (s *servicePrincipalSource) Token() (*oauth2.Token, error) {
	secret, err := s.provider.clientSecret()
	if err != nil {
		return nil, err
	}

	conf := clientcredentials.Config{
		ClientID:     s.provider.cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     strings.TrimRight(s.provider.opts.AuthorityURL, "/") + "/" + s.provider.cfg.TenantID + "/oauth2/v2.0/token",
		Scopes:       []string{scope(s.resource)},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := conf.Token(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAuthenticationFailed, "service principal token request failed").
			WithContext("resource", s.resource).
			WithContext("client_id", s.provider.cfg.ClientID).
			WithSuggestions("Verify the client secret with 'lakedeploy auth sp-login'")
	}
	return tok, nil
}

func (p *Provider) clientSecret() (string, error) {
	if v, ok := p.opts.LookupEnv("AZURE_CLIENT_SECRET"); ok && v != "" {
		return v, nil
	}
	if p.opts.Secrets == nil {
		return "", errors.New(errors.ErrCodeCredentialNotFound, "No client secret available").
			WithSuggestions("Set AZURE_CLIENT_SECRET or run 'lakedeploy auth sp-login'")
	}
	cred, err := p.opts.Secrets.Get(ServicePrincipalSecretName(p.cfg.ClientID))
	if err != nil {
		return "", err
	}
	return cred.Value, nil
}

func scope(resource string) string {
	if strings.HasPrefix(resource, "https://") {
		return strings.TrimRight(resource, "/") + "/.default"
	}
	return resource + "/.default"
}

// Static tokens from the environment

// envTokenVars names the variable holding a pre-issued token per resource
var envTokenVars = map[string]string{
	ResourcePowerBI:    "POWERBI_TOKEN",
	ResourceGraph:      "GRAPH_TOKEN",
	ResourceStorage:    "STORAGE_TOKEN",
	ResourceDatabricks: "DATABRICKS_TOKEN",
}

type envTokenSource struct {
	provider *Provider
	resource string
}

func (s *envTokenSource) Token() (*oauth2.Token, error) {
	names := []string{}
	if name, ok := envTokenVars[s.resource]; ok {
		names = append(names, name)
	}
	names = append(names, s.provider.cfg.TokenEnv)

	for _, name := range names {
		if name == "" {
			continue
		}
		if v, ok := s.provider.opts.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			return &oauth2.Token{
				AccessToken: strings.TrimSpace(v),
				TokenType:   "Bearer",
				// unknown lifetime; re-read the variable periodically
				Expiry: time.Now().Add(10 * time.Minute),
			}, nil
		}
	}

	return nil, errors.New(errors.ErrCodeTokenUnavailable, "No access token found in the environment").
		WithContext("resource", s.resource).
		WithContext("variables", strings.Join(names, ", "))
}
