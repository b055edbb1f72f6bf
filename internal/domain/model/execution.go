package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ExecutionStatus tracks the lifecycle of one scheduled job run.
type ExecutionStatus string

const (
	// ExecutionStatusQueued indicates the task was handed to the broker.
	ExecutionStatusQueued ExecutionStatus = "queued"
	// ExecutionStatusRunning indicates a worker picked the task up.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusSuccess indicates the run completed without failures.
	ExecutionStatusSuccess ExecutionStatus = "success"
	// ExecutionStatusFailed indicates the run completed with failures or never enqueued.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusTimeout indicates the row was reaped after the stale threshold.
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

// Valid reports whether the execution status is supported.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusQueued, ExecutionStatusRunning, ExecutionStatusSuccess,
		ExecutionStatusFailed, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// Execution is one historical run of a scheduler job, identified by the
// broker task id.
type Execution struct {
	ID           string          `json:"id"                      db:"id"`
	JobName      string          `json:"job_name"                db:"job_name"`
	TaskName     string          `json:"task_name"               db:"task_name"`
	TaskID       string          `json:"task_id"                 db:"task_id"`
	Status       ExecutionStatus `json:"status"                  db:"status"`
	StartedAt    time.Time       `json:"started_at"              db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"   db:"finished_at"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Result       json.RawMessage `json:"result,omitempty"        db:"result"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
}

// CreateExecutionRequest records a new execution row at dispatch time.
type CreateExecutionRequest struct {
	JobName      string          `json:"job_name"`
	TaskName     string          `json:"task_name"`
	TaskID       string          `json:"task_id"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Validate validates the CreateExecutionRequest fields.
func (r *CreateExecutionRequest) Validate() error {
	if r.JobName == "" {
		return errors.New("job_name is required")
	}
	if r.TaskName == "" {
		return errors.New("task_name is required")
	}
	if r.TaskID == "" {
		return errors.New("task_id is required")
	}
	if !r.Status.Valid() {
		return errors.New("invalid status")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	return nil
}

// ExecutionPatch updates an execution row by task id. Nil fields are left
// untouched.
type ExecutionPatch struct {
	Status       *ExecutionStatus `json:"status,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
}

// ReapedExecution identifies an execution flipped to timeout by the reaper.
type ReapedExecution struct {
	ID      string `json:"id"`
	JobName string `json:"job_name"`
	TaskID  string `json:"task_id"`
}

// ExecutionsListOptions controls filtering for listing executions.
// Notes:
// - JobName and Status match exactly.
// - Rows are returned newest first.
type ExecutionsListOptions struct {
	Limit   int
	Offset  int
	JobName *string
	Status  *ExecutionStatus
}
