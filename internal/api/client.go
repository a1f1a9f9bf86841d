// Package api is the REST core shared by the Fabric, Power BI, Graph and Databricks clients:
// bearer auth, rate limiting, retry with backoff, long-running operation polling and paging.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"lakedeploy/internal/observability"
	"lakedeploy/pkg/errors"
)

const userAgent = "lakedeploy/1.0"

// PollConfig controls long-running operation polling
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Config configures a Client
type Config struct {
	// Service names the API in logs, metrics and error suggestions ("fabric", "powerbi", ...)
	Service     string
	BaseURL     string
	TokenSource oauth2.TokenSource
	RateLimit   float64
	RateBurst   int
	Retry       *errors.RetryConfig
	Poll        PollConfig
	HTTPClient  *http.Client
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Client is a rate-limited, retrying REST client
type Client struct {
	service    string
	baseURL    string
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	retry      errors.RetryConfig
	poll       PollConfig
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewClient creates a client with defaults for every unset field
func NewClient(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.Retry == nil {
		cfg.Retry = errors.DefaultRetryConfig()
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = 5 * time.Second
	}
	if cfg.Poll.Timeout <= 0 {
		cfg.Poll.Timeout = 30 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetDefaultLogger()
	}

	return &Client{
		service:    cfg.Service,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.TokenSource,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		retry:      *cfg.Retry,
		poll:       cfg.Poll,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.WithField("service", cfg.Service),
		metrics:    cfg.Metrics,
	}
}

// Service returns the service name
func (c *Client) Service() string { return c.service }

// BaseURL returns the base URL requests are resolved against
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one REST call
type Request struct {
	Method string
	// Path is relative to the base URL, or an absolute URL (Location headers, next links)
	Path        string
	Query       url.Values
	Headers     map[string]string
	JSON        interface{}
	Body        []byte
	ContentType string
}

// Response wraps an HTTP response with convenience methods
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into target
func (r *Response) JSON(target interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeBadResponse, "failed to decode response body").
			WithContext("body", truncate(string(r.Body), 512))
	}
	return nil
}

// IsAccepted reports a 202 response, the start of a long-running operation
func (r *Response) IsAccepted() bool {
	return r.StatusCode == http.StatusAccepted
}

// OperationID returns the x-ms-operation-id header
func (r *Response) OperationID() string {
	return r.Headers.Get("x-ms-operation-id")
}

// Location returns the Location header
func (r *Response) Location() string {
	return r.Headers.Get("Location")
}

// RetryAfter returns the Retry-After header as a duration, or zero
func (r *Response) RetryAfter() time.Duration {
	return parseRetryAfter(r.Headers.Get("Retry-After"))
}

// Get issues a GET and decodes the JSON body into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// Post issues a POST with a JSON body and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: path, JSON: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// Delete issues a DELETE
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
	return err
}

// Do executes a request with rate limiting and retry.
// 429 and 5xx responses are retried honouring Retry-After; other 4xx are returned at once.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	body := req.Body
	contentType := req.ContentType
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode request body")
		}
		body = data
		if contentType == "" {
			contentType = "application/json"
		}
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	retryConfig := c.retry
	retryConfig.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.metrics.IncRetry(c.service)
		c.logger.WarnWithFields("retrying request", map[string]interface{}{
			"method":  req.Method,
			"path":    pathOf(target),
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}

	var resp *Response
	attempt := 0
	err = errors.Retry(ctx, &retryConfig, func(ctx context.Context) error {
		attempt++
		r, err := c.doOnce(ctx, req.Method, target, body, contentType, req.Headers, attempt)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, method, target string, body []byte, contentType string, headers map[string]string, attempt int) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to build request")
	}
	if body == nil {
		httpReq.Body = http.NoBody
		httpReq.ContentLength = 0
	}

	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, err
		}
		tok.SetAuthHeader(httpReq)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(c.service, method, 0, elapsed)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errors.ErrCodeNetwork, fmt.Sprintf("%s request failed", c.service)).
			WithContext("method", method).
			WithContext("path", pathOf(target)).
			AsRecoverable()
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	c.metrics.ObserveRequest(c.service, method, httpResp.StatusCode, elapsed)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNetwork, "failed to read response body").AsRecoverable()
	}

	c.logger.DebugWithFields("api call", map[string]interface{}{
		"method":   method,
		"path":     pathOf(target),
		"status":   httpResp.StatusCode,
		"attempt":  attempt,
		"duration": elapsed.String(),
	})

	resp := &Response{StatusCode: httpResp.StatusCode, Headers: httpResp.Header, Body: data}
	if httpResp.StatusCode >= 400 {
		return nil, c.toAppError(newHTTPError(method, target, resp))
	}
	return resp, nil
}

// resolve builds the absolute URL for path
func (c *Client) resolve(path string, query url.Values) (string, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimPrefix(path, "/")
	}

	if len(query) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request URL").WithContext("url", target)
		}
		q := u.Query()
		for k, values := range query {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}
	return target, nil
}

func pathOf(target string) string {
	if u, err := url.Parse(target); err == nil {
		return u.Path
	}
	return target
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
