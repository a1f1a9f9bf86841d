// Package powerbi deploys .pbix reports through the Power BI REST API.
package powerbi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// Import states
const (
	ImportPublishing = "Publishing"
	ImportSucceeded  = "Succeeded"
	ImportFailed     = "Failed"
)

// Client wraps the Power BI REST API
type Client struct {
	api *api.Client
}

// NewClient creates a Power BI client on top of an api client rooted at .../v1.0/myorg
func NewClient(c *api.Client) *Client {
	return &Client{api: c}
}

// Dataset is a Power BI semantic model
type Dataset struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ConfiguredBy  string `json:"configuredBy,omitempty"`
	IsRefreshable bool   `json:"isRefreshable"`
	WebURL        string `json:"webUrl,omitempty"`
}

// Report is a Power BI report
type Report struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DatasetID string `json:"datasetId,omitempty"`
	WebURL    string `json:"webUrl,omitempty"`
}

// Import is the state of a .pbix upload
type Import struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ImportState string    `json:"importState"`
	Datasets    []Dataset `json:"datasets"`
	Reports     []Report  `json:"reports"`
	Error       *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error,omitempty"`
}

// Refresh is one dataset refresh in the refresh history
type Refresh struct {
	RequestID        string `json:"requestId"`
	RefreshType      string `json:"refreshType"`
	Status           string `json:"status"` // Unknown while running, Completed, Failed, Disabled
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	ServiceException string `json:"serviceExceptionJson,omitempty"`
}

func groupPath(workspaceID string, parts ...string) string {
	p := "groups/" + workspaceID
	if len(parts) > 0 {
		p += "/" + strings.Join(parts, "/")
	}
	return p
}

// ImportPBIX uploads a .pbix file, overwriting any report and dataset with the same name,
// and returns the import ID
func (c *Client) ImportPBIX(ctx context.Context, workspaceID, displayName string, content []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", displayName+".pbix")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build multipart body")
	}
	if _, err := part.Write(content); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build multipart body")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build multipart body")
	}

	resp, err := c.api.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   groupPath(workspaceID, "imports"),
		Query: url.Values{
			"datasetDisplayName": {displayName},
			"nameConflict":       {"CreateOrOverwrite"},
		},
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.GetErrorCode(err), "report import failed").WithContext("report", displayName)
	}

	var imp Import
	if err := resp.JSON(&imp); err != nil {
		return "", err
	}
	if imp.ID == "" {
		return "", errors.New(errors.ErrCodeBadResponse, "import response has no id").WithContext("report", displayName)
	}
	return imp.ID, nil
}

// GetImport reads the state of an import
func (c *Client) GetImport(ctx context.Context, workspaceID, importID string) (*Import, error) {
	var imp Import
	if err := c.api.Get(ctx, groupPath(workspaceID, "imports", importID), nil, &imp); err != nil {
		return nil, err
	}
	return &imp, nil
}

// WaitForImport polls an import until it succeeds or fails
func (c *Client) WaitForImport(ctx context.Context, workspaceID, importID string, timeout time.Duration) (*Import, error) {
	var final *Import
	err := c.api.PollUntil(ctx, "report import", timeout, 0, func(ctx context.Context) (bool, time.Duration, error) {
		imp, err := c.GetImport(ctx, workspaceID, importID)
		if err != nil {
			return false, 0, err
		}

		switch imp.ImportState {
		case ImportSucceeded:
			final = imp
			return true, 0, nil
		case ImportFailed:
			appErr := errors.Newf(errors.ErrCodeOperationFailed, "Import of '%s' failed", imp.Name).
				WithContext("import_id", importID)
			if imp.Error != nil {
				appErr = appErr.WithContext("error_code", imp.Error.Code)
			}
			return false, 0, appErr
		default:
			return false, 0, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// UpdateParameters sets dataset parameters, e.g. the SQL endpoint server and database
func (c *Client) UpdateParameters(ctx context.Context, workspaceID, datasetID string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}

	type detail struct {
		Name     string `json:"name"`
		NewValue string `json:"newValue"`
	}
	details := make([]detail, 0, len(params))
	for _, name := range sortedKeys(params) {
		details = append(details, detail{Name: name, NewValue: params[name]})
	}

	return c.api.Post(ctx, groupPath(workspaceID, "datasets", datasetID, "Default.UpdateParameters"),
		map[string]interface{}{"updateDetails": details}, nil)
}

// TakeOverDataset makes the caller the owner of the dataset so its parameters can be changed
func (c *Client) TakeOverDataset(ctx context.Context, workspaceID, datasetID string) error {
	return c.api.Post(ctx, groupPath(workspaceID, "datasets", datasetID, "Default.TakeOver"), nil, nil)
}

// RefreshRequest is one queued refresh of a dataset
type RefreshRequest struct {
	DatasetID string
	// RequestID comes from the RequestId response header
	RequestID string
	// PreviousRequestID is the newest refresh before this one was queued
	PreviousRequestID string
}

// RefreshDataset queues a dataset refresh
func (c *Client) RefreshDataset(ctx context.Context, workspaceID, datasetID string) (*RefreshRequest, error) {
	req := &RefreshRequest{DatasetID: datasetID}

	previous, err := c.LatestRefresh(ctx, workspaceID, datasetID)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		req.PreviousRequestID = previous.RequestID
	}

	resp, err := c.api.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   groupPath(workspaceID, "datasets", datasetID, "refreshes"),
		JSON:   map[string]string{"notifyOption": "NoNotification"},
	})
	if err != nil {
		return nil, err
	}
	req.RequestID = resp.Headers.Get("RequestId")
	return req, nil
}

// LatestRefresh returns the most recent refresh of a dataset, or nil
func (c *Client) LatestRefresh(ctx context.Context, workspaceID, datasetID string) (*Refresh, error) {
	refreshes, err := c.RecentRefreshes(ctx, workspaceID, datasetID, 1)
	if err != nil || len(refreshes) == 0 {
		return nil, err
	}
	return &refreshes[0], nil
}

// RecentRefreshes returns up to top refreshes of a dataset, newest first
func (c *Client) RecentRefreshes(ctx context.Context, workspaceID, datasetID string, top int) ([]Refresh, error) {
	var page struct {
		Value []Refresh `json:"value"`
	}
	err := c.api.Get(ctx, groupPath(workspaceID, "datasets", datasetID, "refreshes"), url.Values{"$top": {strconv.Itoa(top)}}, &page)
	if err != nil {
		return nil, err
	}
	return page.Value, nil
}

// WaitForRefresh polls the refresh history until the queued refresh completes.
// Refreshes from before the request count as pending.
func (c *Client) WaitForRefresh(ctx context.Context, workspaceID string, req *RefreshRequest, timeout time.Duration) error {
	return c.api.PollUntil(ctx, "dataset refresh", timeout, 0, func(ctx context.Context) (bool, time.Duration, error) {
		refreshes, err := c.RecentRefreshes(ctx, workspaceID, req.DatasetID, refreshHistoryDepth)
		if err != nil {
			return false, 0, err
		}
		refresh := req.find(refreshes)
		if refresh == nil {
			return false, 0, nil
		}

		switch refresh.Status {
		case "Completed":
			return true, 0, nil
		case "Failed", "Disabled", "Cancelled":
			return false, 0, errors.Newf(errors.ErrCodeOperationFailed, "Dataset refresh %s", strings.ToLower(refresh.Status)).
				WithContext("dataset_id", req.DatasetID).
				WithContext("request_id", refresh.RequestID)
		default:
			return false, 0, nil
		}
	})
}

const refreshHistoryDepth = 10

func (r *RefreshRequest) find(refreshes []Refresh) *Refresh {
	if r.RequestID != "" {
		for i := range refreshes {
			if strings.EqualFold(refreshes[i].RequestID, r.RequestID) {
				return &refreshes[i]
			}
		}
		return nil
	}
	if len(refreshes) == 0 {
		return nil
	}
	if r.PreviousRequestID != "" && refreshes[0].RequestID == r.PreviousRequestID {
		return nil
	}
	return &refreshes[0]
}

// ListReports returns the reports in a workspace
func (c *Client) ListReports(ctx context.Context, workspaceID string) ([]Report, error) {
	return api.ListAll[Report](ctx, c.api, groupPath(workspaceID, "reports"), nil)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
