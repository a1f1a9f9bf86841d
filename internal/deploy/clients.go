package deploy

import (
	"strings"
	"time"

	"golang.org/x/oauth2"

	"lakedeploy/internal/api"
	"lakedeploy/internal/auth"
	"lakedeploy/internal/config"
	"lakedeploy/internal/databricks"
	"lakedeploy/internal/fabric"
	"lakedeploy/internal/graph"
	"lakedeploy/internal/observability"
	"lakedeploy/internal/powerbi"
	"lakedeploy/pkg/models"
)

// Clients are the service clients a deployment talks to. Databricks is nil
// unless the Databricks integration is enabled.
type Clients struct {
	Fabric     *fabric.Client
	PowerBI    *powerbi.Client
	Graph      *graph.Client
	Databricks *databricks.Client
}

// TokenProvider hands out a token source per resource; auth.Provider implements it
type TokenProvider interface {
	TokenSource(resource string) oauth2.TokenSource
}

// NewClients builds every service client from config
func NewClients(cfg *models.Config, tokens TokenProvider, logger *observability.Logger, metrics *observability.Metrics) *Clients {
	poll := api.PollConfig{
		Interval: config.Duration(cfg.Polling.Interval, 5*time.Second),
		Timeout:  config.Duration(cfg.Polling.Timeout, 30*time.Minute),
	}
	newAPI := func(service, baseURL, resource string) *api.Client {
		return api.NewClient(api.Config{
			Service:     service,
			BaseURL:     baseURL,
			TokenSource: tokens.TokenSource(resource),
			RateLimit:   cfg.RateLimit.RPS,
			RateBurst:   cfg.RateLimit.Burst,
			Retry:       config.RetryConfig(cfg),
			Poll:        poll,
			Logger:      logger,
			Metrics:     metrics,
		})
	}

	clients := &Clients{
		Fabric: fabric.NewClient(
			newAPI("fabric", cfg.Fabric.APIURL, auth.ResourceFabric),
			newAPI("onelake", cfg.Fabric.OneLakeURL, auth.ResourceStorage),
		),
		PowerBI: powerbi.NewClient(newAPI("powerbi", cfg.Fabric.PowerBIURL, auth.ResourcePowerBI)),
		Graph:   graph.NewClient(newAPI("graph", cfg.Fabric.GraphURL, auth.ResourceGraph)),
	}
	if cfg.Databricks.Enabled {
		host := strings.TrimRight(cfg.Databricks.Host, "/")
		clients.Databricks = databricks.NewClient(newAPI("databricks", host, auth.ResourceDatabricks))
	}
	return clients
}
