package fabric

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// PublishDetails is the state of the last environment publish
type PublishDetails struct {
	State         string `json:"state"` // Running, Success, Failed, Cancelled
	TargetVersion string `json:"targetVersion"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
}

// Environment is a Fabric Spark environment
type Environment struct {
	Item
	Properties struct {
		PublishDetails *PublishDetails `json:"publishDetails"`
	} `json:"properties"`
}

// CreateEnvironment creates an environment item
func (c *Client) CreateEnvironment(ctx context.Context, workspaceID, name, description, folderID string) (*Environment, error) {
	body := map[string]string{"displayName": name}
	if description != "" {
		body["description"] = description
	}
	if folderID != "" {
		body["folderId"] = folderID
	}

	var env Environment
	err := c.api.DoLRO(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "environments"),
		JSON:   body,
	}, &env)
	if err != nil {
		return nil, err
	}

	if env.ID == "" {
		found, err := c.FindItem(ctx, workspaceID, ItemTypeEnvironment, name)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, notFound(ItemTypeEnvironment, name)
		}
		return &Environment{Item: *found}, nil
	}
	return &env, nil
}

// GetEnvironment fetches an environment with its publish state
func (c *Client) GetEnvironment(ctx context.Context, workspaceID, environmentID string) (*Environment, error) {
	var env Environment
	if err := c.api.Get(ctx, wsPath(workspaceID, "environments", environmentID), nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// UploadStagingLibrary uploads a library file (.whl, .jar, environment.yml) to the staging area
func (c *Client) UploadStagingLibrary(ctx context.Context, workspaceID, environmentID, name string, content []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build multipart body")
	}
	if _, err := part.Write(content); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build multipart body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build multipart body")
	}

	_, err = c.api.Do(ctx, &api.Request{
		Method:      http.MethodPost,
		Path:        wsPath(workspaceID, "environments", environmentID, "staging", "libraries"),
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	})
	if err != nil {
		return errors.Wrap(err, errors.GetErrorCode(err), "failed to upload library").WithContext("library", name)
	}
	return nil
}

// Publish is one publish of an environment's staged changes
type Publish struct {
	EnvironmentID string
	// TargetVersion is the version the publish produces, when the service reports it
	TargetVersion string
	// PreviousVersion is the target version of the publish before this one
	PreviousVersion string
}

type publishResponse struct {
	PublishDetails *PublishDetails `json:"publishDetails"`
	Properties     struct {
		PublishDetails *PublishDetails `json:"publishDetails"`
	} `json:"properties"`
}

// PublishEnvironment publishes the staged libraries and settings
func (c *Client) PublishEnvironment(ctx context.Context, workspaceID, environmentID string) (*Publish, error) {
	publish := &Publish{EnvironmentID: environmentID}

	before, err := c.GetEnvironment(ctx, workspaceID, environmentID)
	if err != nil {
		return nil, err
	}
	if before.Properties.PublishDetails != nil {
		publish.PreviousVersion = before.Properties.PublishDetails.TargetVersion
	}

	resp, err := c.api.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   wsPath(workspaceID, "environments", environmentID, "staging", "publish"),
	})
	if err != nil {
		return nil, err
	}

	var body publishResponse
	if err := resp.JSON(&body); err != nil {
		return nil, err
	}
	details := body.PublishDetails
	if details == nil {
		details = body.Properties.PublishDetails
	}
	if details != nil {
		publish.TargetVersion = details.TargetVersion
	}
	return publish, nil
}

// WaitForPublish polls the environment until the given publish finishes.
// Details of an earlier publish count as pending.
func (c *Client) WaitForPublish(ctx context.Context, workspaceID string, publish *Publish, timeout time.Duration) error {
	return c.api.PollUntil(ctx, "environment publish", timeout, 0, func(ctx context.Context) (bool, time.Duration, error) {
		env, err := c.GetEnvironment(ctx, workspaceID, publish.EnvironmentID)
		if err != nil {
			return false, 0, err
		}

		details := env.Properties.PublishDetails
		if details == nil || !publish.matches(details) {
			return false, 0, nil
		}

		switch strings.ToLower(details.State) {
		case "success":
			return true, 0, nil
		case "failed", "cancelled":
			return false, 0, errors.Newf(errors.ErrCodeOperationFailed, "Environment publish %s", strings.ToLower(details.State)).
				WithContext("environment_id", publish.EnvironmentID).
				WithContext("target_version", details.TargetVersion)
		default:
			return false, 0, nil
		}
	})
}

func (p *Publish) matches(details *PublishDetails) bool {
	if p.TargetVersion != "" {
		return details.TargetVersion == p.TargetVersion
	}
	if p.PreviousVersion != "" {
		return details.TargetVersion != p.PreviousVersion
	}
	return true
}
