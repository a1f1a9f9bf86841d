package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lakedeploy/pkg/errors"
)

// Long-running operation states
const (
	OperationNotStarted = "NotStarted"
	OperationRunning    = "Running"
	OperationSucceeded  = "Succeeded"
	OperationFailed     = "Failed"
	OperationUndefined  = "Undefined"
)

// ErrorDetail is the error reported by a failed operation or job
type ErrorDetail struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// OperationState is the body returned when polling an operation
type OperationState struct {
	Status          string       `json:"status"`
	CreatedTimeUtc  string       `json:"createdTimeUtc"`
	LastUpdatedUtc  string       `json:"lastUpdatedTimeUtc"`
	PercentComplete *int         `json:"percentComplete"`
	Error           *ErrorDetail `json:"error"`
}

// DoLRO executes req and, when the service answers 202 Accepted, polls the operation
// until it reaches a terminal state. On success the operation result, if any, is
// decoded into out. Non-202 responses are decoded directly.
func (c *Client) DoLRO(ctx context.Context, req *Request, out interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.IsAccepted() {
		if out != nil {
			return resp.JSON(out)
		}
		return nil
	}

	operationID := resp.OperationID()
	location := resp.Location()
	if location == "" && operationID != "" {
		location = "operations/" + operationID
	}
	if location == "" {
		// accepted without a handle to poll
		return nil
	}

	var final *Response
	err = c.PollUntil(ctx, "operation "+operationID, 0, resp.RetryAfter(), func(ctx context.Context) (bool, time.Duration, error) {
		pollResp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: location})
		if err != nil {
			return false, 0, err
		}

		var state OperationState
		if err := pollResp.JSON(&state); err != nil {
			return false, 0, err
		}

		c.logger.DebugWithFields("operation status", map[string]interface{}{
			"operation_id": operationID,
			"status":       state.Status,
		})

		switch state.Status {
		case OperationSucceeded:
			final = pollResp
			return true, 0, nil
		case OperationFailed:
			return false, 0, operationFailed(operationID, state.Error)
		default:
			return false, pollResp.RetryAfter(), nil
		}
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	resultPath := final.Location()
	if resultPath == "" {
		resultPath = strings.TrimSuffix(location, "/") + "/result"
	}

	result, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: resultPath})
	if err != nil {
		return err
	}
	return result.JSON(out)
}

func operationFailed(operationID string, detail *ErrorDetail) error {
	msg := "Long-running operation failed"
	appErr := errors.New(errors.ErrCodeOperationFailed, msg).WithContext("operation_id", operationID)
	if detail != nil {
		appErr.Message = msg + ": " + strings.TrimSpace(detail.Message)
		if detail.ErrorCode != "" {
			appErr = appErr.WithContext("error_code", detail.ErrorCode)
		}
	}
	return appErr
}

// PollUntil calls check until it reports done, returns an error, or timeout elapses.
// The wait between polls is the hint returned by check, else the configured interval.
// A zero timeout uses the client's poll timeout.
func (c *Client) PollUntil(ctx context.Context, what string, timeout, firstDelay time.Duration, check func(context.Context) (bool, time.Duration, error)) error {
	if timeout <= 0 {
		timeout = c.poll.Timeout
	}
	deadline := time.Now().Add(timeout)

	delay := firstDelay
	if delay <= 0 {
		delay = c.poll.Interval
	}

	for {
		if remaining := time.Until(deadline); delay > remaining {
			delay = remaining
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		c.metrics.IncPoll(c.service)
		done, hint, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if !time.Now().Before(deadline) {
			return errors.Newf(errors.ErrCodeOperationTimeout, "Timed out waiting for %s", what).
				WithContext("timeout", timeout.String()).
				WithSuggestions("Increase polling.timeout in the configuration and resume the deployment")
		}

		delay = c.poll.Interval
		if hint > 0 && hint < c.poll.Timeout {
			delay = hint
		}
	}
}
