package models

import (
	"time"
)

// DeploymentState represents the state of a deployment or one of its steps
type DeploymentState string

const (
	StatePending    DeploymentState = "pending"
	StateInProgress DeploymentState = "in_progress"
	StateCompleted  DeploymentState = "completed"
	StateFailed     DeploymentState = "failed"
	StateSkipped    DeploymentState = "skipped"
	StateDestroyed  DeploymentState = "destroyed"
)

// DeploymentRecord stores information about one deployment run
type DeploymentRecord struct {
	ID           string            `json:"id"`
	Workspace    string            `json:"workspace"`
	Capacity     string            `json:"capacity"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	State        DeploymentState   `json:"state"`
	DryRun       bool              `json:"dry_run,omitempty"`
	Steps        []StepRecord      `json:"steps"`
	Resources    map[string]string `json:"resources"`
	ErrorMessage string            `json:"error_message,omitempty"`
	PreviousID   string            `json:"previous_id,omitempty"`
}

// StepRecord represents the execution of a single deployment step
type StepRecord struct {
	Name         string          `json:"name"`
	Order        int             `json:"order"`
	State        DeploymentState `json:"state"`
	StartTime    time.Time       `json:"start_time,omitempty"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Duration     time.Duration   `json:"duration,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Step returns the record for the named step, or nil
func (r *DeploymentRecord) Step(name string) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// Completed reports whether the named step finished successfully
func (r *DeploymentRecord) Completed(name string) bool {
	s := r.Step(name)
	return s != nil && s.State == StateCompleted
}
