package powerbi

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakedeploy/internal/api/apitest"
	"lakedeploy/internal/testutil"
	"lakedeploy/pkg/errors"
)

const prefix = "/v1.0/myorg"

func newTestClient(t *testing.T) (*Client, *testutil.FakeServer) {
	server := testutil.NewFakeServer(t)
	return NewClient(apitest.NewClient(server, "powerbi", prefix)), server
}

func TestImportPBIX(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply(http.MethodPost, prefix+"/groups/ws-1/imports", http.StatusAccepted, map[string]string{"id": "imp-1"})
	server.Sequence(http.MethodGet, prefix+"/groups/ws-1/imports/imp-1",
		testutil.FakeResponse{Status: http.StatusOK, Body: map[string]string{"id": "imp-1", "importState": "Publishing"}},
		testutil.FakeResponse{Status: http.StatusOK, Body: map[string]interface{}{
			"id":          "imp-1",
			"name":        "Sales Overview",
			"importState": "Succeeded",
			"datasets":    []map[string]string{{"id": "ds-1", "name": "Sales Overview"}},
			"reports":     []map[string]string{{"id": "rp-1", "name": "Sales Overview"}},
		}},
	)

	id, err := client.ImportPBIX(t.Context(), "ws-1", "Sales Overview", []byte("PK\x03\x04pbix"))
	require.NoError(t, err)
	assert.Equal(t, "imp-1", id)

	req := server.Requests(http.MethodPost, prefix+"/groups/ws-1/imports")[0]
	query, err := url.ParseQuery(req.Query)
	require.NoError(t, err)
	assert.Equal(t, "CreateOrOverwrite", query.Get("nameConflict"))
	assert.Equal(t, "Sales Overview", query.Get("datasetDisplayName"))
	assert.Contains(t, req.Header.Get("Content-Type"), "multipart/form-data")
	assert.Contains(t, string(req.Body), `filename="Sales Overview.pbix"`)

	imp, err := client.WaitForImport(t.Context(), "ws-1", id, time.Second)
	require.NoError(t, err)
	require.Len(t, imp.Datasets, 1)
	assert.Equal(t, "ds-1", imp.Datasets[0].ID)
}

func TestWaitForImportFailed(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply(http.MethodGet, prefix+"/groups/ws-1/imports/imp-1", http.StatusOK, map[string]interface{}{
		"id": "imp-1", "name": "Sales", "importState": "Failed",
		"error": map[string]string{"code": "PowerBIInvalidPbix"},
	})

	_, err := client.WaitForImport(t.Context(), "ws-1", "imp-1", time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationFailed))
}

func TestUpdateParametersOrdersDetails(t *testing.T) {
	client, server := newTestClient(t)
	path := prefix + "/groups/ws-1/datasets/ds-1/Default.UpdateParameters"
	server.Reply(http.MethodPost, path, http.StatusOK, nil)

	err := client.UpdateParameters(t.Context(), "ws-1", "ds-1", map[string]string{
		"Server":   "abc.datawarehouse.fabric.microsoft.com",
		"Database": "maag_gold",
	})
	require.NoError(t, err)

	var body struct {
		UpdateDetails []struct {
			Name     string `json:"name"`
			NewValue string `json:"newValue"`
		} `json:"updateDetails"`
	}
	require.NoError(t, server.Requests(http.MethodPost, path)[0].JSON(&body))
	require.Len(t, body.UpdateDetails, 2)
	assert.Equal(t, "Database", body.UpdateDetails[0].Name)
	assert.Equal(t, "maag_gold", body.UpdateDetails[0].NewValue)
	assert.Equal(t, "Server", body.UpdateDetails[1].Name)

	require.NoError(t, client.UpdateParameters(t.Context(), "ws-1", "ds-1", nil))
	assert.Equal(t, 1, server.Count(http.MethodPost, path))
}

func refreshes(items ...map[string]string) testutil.FakeResponse {
	return testutil.FakeResponse{Status: http.StatusOK, Body: map[string]interface{}{"value": items}}
}

func TestTakeOverAndRefresh(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply(http.MethodPost, prefix+"/groups/ws-1/datasets/ds-1/Default.TakeOver", http.StatusOK, nil)
	server.Sequence(http.MethodPost, prefix+"/groups/ws-1/datasets/ds-1/refreshes", testutil.FakeResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"RequestId": "r-2"},
	})
	server.Sequence(http.MethodGet, prefix+"/groups/ws-1/datasets/ds-1/refreshes",
		refreshes(map[string]string{"requestId": "r-1", "status": "Completed"}),
		refreshes(map[string]string{"requestId": "r-2", "status": "Unknown"}, map[string]string{"requestId": "r-1", "status": "Completed"}),
		refreshes(map[string]string{"requestId": "r-2", "status": "Completed"}, map[string]string{"requestId": "r-1", "status": "Completed"}),
	)

	require.NoError(t, client.TakeOverDataset(t.Context(), "ws-1", "ds-1"))
	refresh, err := client.RefreshDataset(t.Context(), "ws-1", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, &RefreshRequest{DatasetID: "ds-1", RequestID: "r-2", PreviousRequestID: "r-1"}, refresh)
	require.NoError(t, client.WaitForRefresh(t.Context(), "ws-1", refresh, time.Second))
	assert.Equal(t, 3, server.Count(http.MethodGet, prefix+"/groups/ws-1/datasets/ds-1/refreshes"))

	var body map[string]string
	require.NoError(t, server.Requests(http.MethodPost, prefix+"/groups/ws-1/datasets/ds-1/refreshes")[0].JSON(&body))
	assert.Equal(t, "NoNotification", body["notifyOption"])

	query, err := url.ParseQuery(server.Requests(http.MethodGet, prefix+"/groups/ws-1/datasets/ds-1/refreshes")[0].Query)
	require.NoError(t, err)
	assert.Equal(t, "1", query.Get("$top"))
}

func TestWaitForRefreshIgnoresEarlierRefreshes(t *testing.T) {
	tests := []struct {
		name     string
		request  RefreshRequest
		history  []testutil.FakeResponse
		wantCode errors.ErrorCode
		wantGets int
	}{
		{
			name:    "queued refresh not listed yet",
			request: RefreshRequest{DatasetID: "ds-1", RequestID: "r-2", PreviousRequestID: "r-1"},
			history: []testutil.FakeResponse{
				refreshes(map[string]string{"requestId": "r-1", "status": "Completed"}),
				refreshes(map[string]string{"requestId": "r-2", "status": "Failed"}, map[string]string{"requestId": "r-1", "status": "Completed"}),
			},
			wantCode: errors.ErrCodeOperationFailed,
			wantGets: 2,
		},
		{
			name:    "no request id waits for a newer refresh",
			request: RefreshRequest{DatasetID: "ds-1", PreviousRequestID: "r-1"},
			history: []testutil.FakeResponse{
				refreshes(map[string]string{"requestId": "r-1", "status": "Completed"}),
				refreshes(map[string]string{"requestId": "r-3", "status": "Completed"}, map[string]string{"requestId": "r-1", "status": "Completed"}),
			},
			wantGets: 2,
		},
		{
			name:     "empty history is pending",
			request:  RefreshRequest{DatasetID: "ds-1"},
			history:  []testutil.FakeResponse{refreshes(), refreshes(map[string]string{"requestId": "r-1", "status": "Completed"})},
			wantGets: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := newTestClient(t)
			server.Sequence(http.MethodGet, prefix+"/groups/ws-1/datasets/ds-1/refreshes", tt.history...)

			err := client.WaitForRefresh(t.Context(), "ws-1", &tt.request, time.Second)
			if tt.wantCode != "" {
				assert.True(t, errors.HasCode(err, tt.wantCode))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantGets, server.Count(http.MethodGet, prefix+"/groups/ws-1/datasets/ds-1/refreshes"))
		})
	}
}

func TestRefreshFailure(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply(http.MethodGet, prefix+"/groups/ws-1/datasets/ds-1/refreshes", http.StatusOK,
		map[string]interface{}{"value": []map[string]string{{"status": "Failed", "requestId": "r-1"}}})

	err := client.WaitForRefresh(t.Context(), "ws-1", &RefreshRequest{DatasetID: "ds-1", RequestID: "r-1"}, time.Second)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationFailed))
}

func TestPermissionDeniedOnImport(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply(http.MethodPost, prefix+"/groups/ws-1/imports", http.StatusUnauthorized,
		map[string]interface{}{"error": map[string]string{"code": "PowerBINotAuthorizedException"}})

	_, err := client.ImportPBIX(t.Context(), "ws-1", "Sales", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied))
}
