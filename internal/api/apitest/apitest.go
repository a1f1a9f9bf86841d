// Package apitest builds api clients pointed at a testutil.FakeServer.
package apitest

import (
	"time"

	"golang.org/x/oauth2"

	"lakedeploy/internal/api"
	"lakedeploy/internal/testutil"
	"lakedeploy/pkg/errors"
)

// NewClient returns a client for service rooted at server.URL+prefix with
// millisecond retry and poll intervals
func NewClient(server *testutil.FakeServer, service, prefix string) *api.Client {
	return api.NewClient(api.Config{
		Service:     service,
		BaseURL:     server.URL + prefix,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: service + "-token"}),
		RateLimit:   1000,
		RateBurst:   1000,
		Retry: &errors.RetryConfig{
			MaxRetries:     2,
			InitialDelay:   time.Millisecond,
			MaxDelay:       2 * time.Millisecond,
			Multiplier:     2,
			RetryableError: errors.IsRecoverable,
		},
		Poll: api.PollConfig{Interval: time.Millisecond, Timeout: 2 * time.Second},
	})
}
