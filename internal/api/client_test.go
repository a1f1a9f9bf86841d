package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"lakedeploy/internal/observability"
	"lakedeploy/internal/testutil"
	"lakedeploy/pkg/errors"
)

func newTestClient(server *testutil.FakeServer, metrics *observability.Metrics) *Client {
	return NewClient(Config{
		Service:     "fabric",
		BaseURL:     server.URL + "/v1",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		RateLimit:   1000,
		RateBurst:   1000,
		Retry: &errors.RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			RetryableError: func(err error) bool {
				return errors.IsRecoverable(err)
			},
		},
		Poll:    PollConfig{Interval: time.Millisecond, Timeout: time.Second},
		Metrics: metrics,
	})
}

func TestDoSetsHeaders(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Reply(http.MethodPost, "/v1/workspaces", http.StatusCreated, map[string]string{"id": "ws-1"})

	client := newTestClient(server, nil)

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, client.Post(context.Background(), "workspaces", map[string]string{"displayName": "demo"}, &out))
	assert.Equal(t, "ws-1", out.ID)

	reqs := server.Requests(http.MethodPost, "/v1/workspaces")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer test-token", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, userAgent, reqs[0].Header.Get("User-Agent"))
	assert.JSONEq(t, `{"displayName":"demo"}`, string(reqs[0].Body))
}

func TestDoRetriesThrottledRequests(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Sequence(http.MethodGet, "/v1/capacities",
		testutil.FakeResponse{Status: http.StatusTooManyRequests, Headers: map[string]string{"Retry-After": "0"}, Body: map[string]string{"errorCode": "RequestBlocked"}},
		testutil.FakeResponse{Status: http.StatusServiceUnavailable},
		testutil.FakeResponse{Status: http.StatusOK, Body: map[string]interface{}{"value": []interface{}{}}},
	)

	metrics := observability.NewMetrics()
	client := newTestClient(server, metrics)

	require.NoError(t, client.Get(context.Background(), "capacities", nil, nil))
	assert.Equal(t, 3, server.Count(http.MethodGet, "/v1/capacities"))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode errors.ErrorCode
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: errors.ErrCodePermissionDenied},
		{name: "forbidden", status: http.StatusForbidden, wantCode: errors.ErrCodePermissionDenied},
		{name: "not found", status: http.StatusNotFound, wantCode: errors.ErrCodeNotFound},
		{name: "conflict", status: http.StatusConflict, wantCode: errors.ErrCodeConflict},
		{name: "bad request", status: http.StatusBadRequest, wantCode: errors.ErrCodeAPIRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewFakeServer(t)
			server.Reply(http.MethodGet, "/v1/workspaces/ws", tt.status, map[string]string{
				"errorCode": "SomeCode",
				"message":   "details",
				"requestId": "req-1",
			})

			client := newTestClient(server, nil)
			err := client.Get(context.Background(), "workspaces/ws", nil, nil)
			require.Error(t, err)

			assert.Equal(t, tt.wantCode, errors.GetErrorCode(err))
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Equal(t, "SomeCode", ServiceCode(err))
			assert.Equal(t, 1, server.Count(http.MethodGet, "/v1/workspaces/ws"))
		})
	}
}

func TestPermissionErrorCarriesRemediation(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Reply(http.MethodGet, "/v1/workspaces", http.StatusForbidden, map[string]interface{}{
		"error": map[string]string{"code": "Authorization_RequestDenied", "message": "Insufficient privileges"},
	})

	client := newTestClient(server, nil)
	err := client.Get(context.Background(), "workspaces", nil, nil)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.SeverityCritical, appErr.Severity)
	assert.NotEmpty(t, appErr.Suggestions)
	assert.Equal(t, "Authorization_RequestDenied", ServiceCode(err))
	assert.Contains(t, err.Error(), "Fabric denied the request")
}

func TestRetriesExhausted(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Reply(http.MethodGet, "/v1/capacities", http.StatusInternalServerError, "boom")

	client := newTestClient(server, nil)
	err := client.Get(context.Background(), "capacities", nil, nil)
	require.Error(t, err)

	assert.Equal(t, errors.ErrCodeResourceExhausted, errors.GetErrorCode(err))
	assert.True(t, errors.HasCode(err, errors.ErrCodeServiceUnavailable))
	assert.Equal(t, 4, server.Count(http.MethodGet, "/v1/capacities"))
}

func TestRetryAfterParsing(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.True(t, d > 20*time.Second && d <= 30*time.Second, "got %s", d)
}

func TestResolve(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://api.fabric.microsoft.com/v1/"})

	got, err := client.resolve("/workspaces", url.Values{"type": {"Lakehouse"}})
	require.NoError(t, err)
	assert.Equal(t, "https://api.fabric.microsoft.com/v1/workspaces?type=Lakehouse", got)

	got, err = client.resolve("https://api.fabric.microsoft.com/v1/operations/1?x=1", url.Values{"y": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, "https://api.fabric.microsoft.com/v1/operations/1?x=1&y=2", got)
}

func TestDoLROPollsUntilSucceeded(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Sequence(http.MethodPost, "/v1/workspaces/ws/items", testutil.FakeResponse{
		Status: http.StatusAccepted,
		Headers: map[string]string{
			"Location":          server.URL + "/v1/operations/op-1",
			"x-ms-operation-id": "op-1",
			"Retry-After":       "0",
		},
	})
	server.Sequence(http.MethodGet, "/v1/operations/op-1",
		testutil.FakeResponse{Body: map[string]string{"status": "NotStarted"}},
		testutil.FakeResponse{Body: map[string]string{"status": "Running"}},
		testutil.FakeResponse{
			Body:    map[string]string{"status": "Succeeded"},
			Headers: map[string]string{"Location": server.URL + "/v1/operations/op-1/result"},
		},
	)
	server.Reply(http.MethodGet, "/v1/operations/op-1/result", http.StatusOK, map[string]string{"id": "item-1"})

	metrics := observability.NewMetrics()
	client := newTestClient(server, metrics)

	var item struct {
		ID string `json:"id"`
	}
	err := client.DoLRO(context.Background(), &Request{Method: http.MethodPost, Path: "workspaces/ws/items", JSON: map[string]string{"displayName": "nb"}}, &item)
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, 3, server.Count(http.MethodGet, "/v1/operations/op-1"))
}

func TestDoLROWithoutLocationUsesOperationID(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Sequence(http.MethodPost, "/v1/workspaces/ws/lakehouses", testutil.FakeResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"x-ms-operation-id": "op-2"},
	})
	server.Reply(http.MethodGet, "/v1/operations/op-2", http.StatusOK, map[string]string{"status": "Succeeded"})
	server.Reply(http.MethodGet, "/v1/operations/op-2/result", http.StatusOK, map[string]string{"id": "lh-1"})

	client := newTestClient(server, nil)

	var out map[string]string
	require.NoError(t, client.DoLRO(context.Background(), &Request{Method: http.MethodPost, Path: "workspaces/ws/lakehouses"}, &out))
	assert.Equal(t, "lh-1", out["id"])
}

func TestDoLROWithOnlyLocationFetchesResult(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Sequence(http.MethodPost, "/v1/workspaces/ws/environments", testutil.FakeResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"Location": server.URL + "/v1/operations/op-5"},
	})
	server.Reply(http.MethodGet, "/v1/operations/op-5", http.StatusOK, map[string]string{"status": "Succeeded"})
	server.Reply(http.MethodGet, "/v1/operations/op-5/result", http.StatusOK, map[string]string{"id": "env-1"})

	client := newTestClient(server, nil)

	var out map[string]string
	require.NoError(t, client.DoLRO(context.Background(), &Request{Method: http.MethodPost, Path: "workspaces/ws/environments"}, &out))
	assert.Equal(t, "env-1", out["id"])
	assert.Equal(t, 1, server.Count(http.MethodGet, "/v1/operations/op-5/result"))
}

func TestDoLRONonAcceptedDecodesDirectly(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Reply(http.MethodPost, "/v1/workspaces/ws/lakehouses", http.StatusCreated, map[string]string{"id": "lh-2"})

	client := newTestClient(server, nil)

	var out map[string]string
	require.NoError(t, client.DoLRO(context.Background(), &Request{Method: http.MethodPost, Path: "workspaces/ws/lakehouses"}, &out))
	assert.Equal(t, "lh-2", out["id"])
	assert.Equal(t, 0, server.Count(http.MethodGet, "/v1/operations/op-2"))
}

func TestDoLROFailed(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Sequence(http.MethodPost, "/v1/workspaces/ws/items", testutil.FakeResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"x-ms-operation-id": "op-3"},
	})
	server.Reply(http.MethodGet, "/v1/operations/op-3", http.StatusOK, map[string]interface{}{
		"status": "Failed",
		"error":  map[string]string{"errorCode": "InvalidDefinition", "message": "notebook-content.py is missing"},
	})

	client := newTestClient(server, nil)
	err := client.DoLRO(context.Background(), &Request{Method: http.MethodPost, Path: "workspaces/ws/items"}, nil)
	require.Error(t, err)

	assert.Equal(t, errors.ErrCodeOperationFailed, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "notebook-content.py is missing")
}

func TestDoLROTimeout(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Sequence(http.MethodPost, "/v1/workspaces/ws/items", testutil.FakeResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"x-ms-operation-id": "op-4"},
	})
	server.Reply(http.MethodGet, "/v1/operations/op-4", http.StatusOK, map[string]string{"status": "Running"})

	client := newTestClient(server, nil)
	client.poll = PollConfig{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}

	err := client.DoLRO(context.Background(), &Request{Method: http.MethodPost, Path: "workspaces/ws/items"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOperationTimeout, errors.GetErrorCode(err))
}

func TestPollUntilHonoursContext(t *testing.T) {
	client := NewClient(Config{Poll: PollConfig{Interval: time.Hour, Timeout: 2 * time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.PollUntil(ctx, "nothing", 0, 0, func(context.Context) (bool, time.Duration, error) {
		t.Fatal("check should not run after cancellation")
		return false, 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListFollowsContinuation(t *testing.T) {
	server := testutil.NewFakeServer(t)
	calls := 0
	server.Handle(http.MethodGet, "/v1/workspaces", func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("continuationToken") {
		case "":
			assert.Equal(t, "Lakehouse", r.URL.Query().Get("type"))
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"value":             []map[string]string{{"id": "1"}, {"id": "2"}},
				"continuationToken": "page-2",
			})
		case "page-2":
			assert.Equal(t, "Lakehouse", r.URL.Query().Get("type"))
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"value":           []map[string]string{{"id": "3"}},
				"continuationUri": server.URL + "/v1/workspaces?continuationToken=page-3",
			})
		default:
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]string{{"id": "4"}},
			})
		}
	})

	client := newTestClient(server, nil)
	items, err := ListAll[struct {
		ID string `json:"id"`
	}](context.Background(), client, "workspaces", url.Values{"type": {"Lakehouse"}})
	require.NoError(t, err)

	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)
	assert.Equal(t, 3, calls)
}

func TestListFollowsODataNextLink(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Handle(http.MethodGet, "/v1.0/groups", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"value":           []map[string]string{{"id": "g1"}},
				"@odata.nextLink": server.URL + "/v1.0/groups?$skiptoken=abc",
			})
			return
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{"value": []map[string]string{{"id": "g2"}}})
	})

	client := NewClient(Config{Service: "graph", BaseURL: server.URL + "/v1.0"})

	var seen []string
	err := client.List(context.Background(), "groups", nil, func(values []json.RawMessage) error {
		for _, v := range values {
			seen = append(seen, strings.Trim(string(v), " "))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"g1"}`, `{"id":"g2"}`}, seen)
}
