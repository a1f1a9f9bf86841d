package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"lakedeploy/pkg/errors"
)

// HTTPError is a non-2xx response from one of the REST services
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	// Code is the service error code (Fabric errorCode, Power BI/Graph error.code, Databricks error_code)
	Code       string
	Message    string
	RequestID  string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, pathOf(e.URL), e.StatusCode, http.StatusText(e.StatusCode))
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// errorBody covers the error envelopes of every service we call
type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	DatabricksCode string `json:"error_code"`
}

func newHTTPError(method, target string, resp *Response) *HTTPError {
	herr := &HTTPError{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		RequestID:  resp.Headers.Get("x-ms-request-id"),
		RetryAfter: resp.RetryAfter(),
	}

	var body errorBody
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		herr.Code = body.ErrorCode
		herr.Message = body.Message
		if body.RequestID != "" {
			herr.RequestID = body.RequestID
		}
		if body.Error != nil {
			herr.Code = body.Error.Code
			herr.Message = body.Error.Message
		}
		if body.DatabricksCode != "" {
			herr.Code = body.DatabricksCode
		}
	} else if text := strings.TrimSpace(string(resp.Body)); text != "" {
		herr.Message = truncate(text, 512)
	}

	return herr
}

// toAppError maps an HTTP failure onto the error taxonomy.
// 429 and 5xx are recoverable; 401 and 403 become permission errors.
func (c *Client) toAppError(herr *HTTPError) *errors.AppError {
	var appErr *errors.AppError
	switch {
	case herr.StatusCode == http.StatusUnauthorized || herr.StatusCode == http.StatusForbidden:
		appErr = errors.PermissionError(c.service, fmt.Sprintf("%s denied the request", serviceTitle(c.service)), herr)
	case herr.StatusCode == http.StatusNotFound:
		appErr = errors.Wrap(herr, errors.ErrCodeNotFound, "Resource not found")
	case herr.StatusCode == http.StatusConflict:
		appErr = errors.Wrap(herr, errors.ErrCodeConflict, "Resource conflict")
	case herr.StatusCode == http.StatusTooManyRequests:
		appErr = errors.Wrap(herr, errors.ErrCodeRateLimited, "Request throttled").
			WithRetryAfter(herr.RetryAfter).
			AsRecoverable()
	case herr.StatusCode >= 500:
		appErr = errors.Wrap(herr, errors.ErrCodeServiceUnavailable, fmt.Sprintf("%s is unavailable", serviceTitle(c.service))).
			WithRetryAfter(herr.RetryAfter).
			AsRecoverable()
	default:
		appErr = errors.Wrap(herr, errors.ErrCodeAPIRequest, "Request rejected")
	}

	appErr = appErr.
		WithContext("status", herr.StatusCode).
		WithContext("path", pathOf(herr.URL))
	if herr.Code != "" {
		appErr = appErr.WithContext("error_code", herr.Code)
	}
	if herr.RequestID != "" {
		appErr = appErr.WithContext("request_id", herr.RequestID)
	}
	return appErr
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// ServiceCode returns the service error code carried by err, or ""
func ServiceCode(err error) string {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Code
	}
	return ""
}

// IsNotFound reports a 404
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsConflict reports a 409
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

func serviceTitle(service string) string {
	switch service {
	case "fabric":
		return "Fabric"
	case "onelake":
		return "OneLake"
	case "powerbi":
		return "Power BI"
	case "graph":
		return "Microsoft Graph"
	case "databricks":
		return "Azure Databricks"
	default:
		return service
	}
}
