package fabric

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"lakedeploy/internal/api"
	"lakedeploy/internal/common"
	"lakedeploy/pkg/errors"
)

// UploadFile writes content to Files/<path> in a lakehouse through the OneLake DFS endpoint.
// The file is created (overwriting any existing one), appended and flushed.
func (c *Client) UploadFile(ctx context.Context, workspaceID, lakehouseID, path string, content []byte) error {
	if c.onelake == nil {
		return errors.New(errors.ErrCodeInternal, "OneLake client is not configured")
	}

	clean, err := common.RemotePath(path)
	if err != nil || clean == "" {
		return errors.New(errors.ErrCodeInvalidInput, "invalid OneLake file path").WithContext("path", path)
	}

	target := workspaceID + "/" + lakehouseID + "/Files/" + escapePath(clean)

	if _, err := c.onelake.Do(ctx, &api.Request{
		Method: http.MethodPut,
		Path:   target,
		Query:  url.Values{"resource": {"file"}},
	}); err != nil {
		return uploadError(err, clean, "create")
	}

	if len(content) > 0 {
		if _, err := c.onelake.Do(ctx, &api.Request{
			Method:      http.MethodPatch,
			Path:        target,
			Query:       url.Values{"action": {"append"}, "position": {"0"}},
			Body:        content,
			ContentType: "application/octet-stream",
		}); err != nil {
			return uploadError(err, clean, "append")
		}
	}

	if _, err := c.onelake.Do(ctx, &api.Request{
		Method: http.MethodPatch,
		Path:   target,
		Query:  url.Values{"action": {"flush"}, "position": {strconv.Itoa(len(content))}},
	}); err != nil {
		return uploadError(err, clean, "flush")
	}
	return nil
}

func uploadError(err error, path, phase string) error {
	return errors.Wrap(err, errors.GetErrorCode(err), "OneLake upload failed").
		WithContext("path", path).
		WithContext("phase", phase)
}

func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
