package fabric

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// Job types
const (
	JobTypeRunNotebook = "RunNotebook"
	JobTypePipeline    = "Pipeline"
)

// Job instance states
const (
	JobNotStarted = "NotStarted"
	JobInProgress = "InProgress"
	JobCompleted  = "Completed"
	JobFailed     = "Failed"
	JobCancelled  = "Cancelled"
	JobDeduped    = "Deduped"
)

// JobInstance is the state of one item job run
type JobInstance struct {
	ID             string           `json:"id"`
	ItemID         string           `json:"itemId"`
	JobType        string           `json:"jobType"`
	InvokeType     string           `json:"invokeType"`
	Status         string           `json:"status"`
	StartTimeUtc   string           `json:"startTimeUtc"`
	EndTimeUtc     string           `json:"endTimeUtc"`
	FailureReason  *api.ErrorDetail `json:"failureReason"`
	RootActivityID string           `json:"rootActivityId"`
}

// RunOnDemandJob starts a job on an item and returns the job instance location
func (c *Client) RunOnDemandJob(ctx context.Context, workspaceID, itemID, jobType string, executionData map[string]interface{}) (string, error) {
	req := &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "items", itemID, "jobs", "instances"),
		Query:  url.Values{"jobType": {jobType}},
	}
	if len(executionData) > 0 {
		req.JSON = map[string]interface{}{"executionData": executionData}
	}

	resp, err := c.api.Do(ctx, req)
	if err != nil {
		return "", err
	}

	location := resp.Location()
	if location == "" {
		return "", errors.New(errors.ErrCodeBadResponse, "job was accepted without a Location header").
			WithContext("item_id", itemID).
			WithContext("job_type", jobType)
	}
	return location, nil
}

// GetJobInstance reads a job instance by its location (absolute URL or relative path)
func (c *Client) GetJobInstance(ctx context.Context, location string) (*JobInstance, error) {
	var job JobInstance
	if err := c.api.Get(ctx, location, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob polls a job instance until it finishes. Failed, Cancelled and Deduped
// runs return an error carrying the failure reason.
func (c *Client) WaitForJob(ctx context.Context, location string, timeout time.Duration) (*JobInstance, error) {
	var final *JobInstance
	err := c.api.PollUntil(ctx, "job "+lastSegment(location), timeout, 0, func(ctx context.Context) (bool, time.Duration, error) {
		job, err := c.GetJobInstance(ctx, location)
		if err != nil {
			return false, 0, err
		}

		switch job.Status {
		case JobCompleted:
			final = job
			return true, 0, nil
		case JobFailed, JobDeduped:
			return false, 0, jobError(errors.ErrCodeJobFailed, job)
		case JobCancelled:
			return false, 0, jobError(errors.ErrCodeJobCancelled, job)
		default:
			return false, 0, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func jobError(code errors.ErrorCode, job *JobInstance) error {
	msg := "Job " + strings.ToLower(job.Status)
	if job.FailureReason != nil && job.FailureReason.Message != "" {
		msg += ": " + job.FailureReason.Message
	}

	appErr := errors.New(code, msg).
		WithContext("job_id", job.ID).
		WithContext("item_id", job.ItemID).
		WithContext("status", job.Status)
	if job.FailureReason != nil && job.FailureReason.ErrorCode != "" {
		appErr = appErr.WithContext("error_code", job.FailureReason.ErrorCode)
	}
	return appErr.WithSuggestions("Open the job run in the Fabric monitoring hub for the full Spark log")
}

func lastSegment(location string) string {
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	location = strings.TrimSuffix(location, "/")
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}
