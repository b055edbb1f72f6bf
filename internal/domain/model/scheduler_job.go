// Package model defines the core data types shared by the netops scheduler,
// job engine, and discovery pipeline.
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	maxJobNameLen = 255
)

// ScheduleType determines how a scheduler job computes its next run.
type ScheduleType string

const (
	// ScheduleTypeInterval runs every interval_seconds from the last dispatch.
	ScheduleTypeInterval ScheduleType = "interval"
	// ScheduleTypeCron runs at instants matching a cron expression.
	ScheduleTypeCron ScheduleType = "cron"
)

// Valid reports whether the schedule type is supported.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleTypeInterval, ScheduleTypeCron:
		return true
	default:
		return false
	}
}

// ParseScheduleType normalizes a schedule type string and reports whether it is supported.
func ParseScheduleType(value string) (ScheduleType, bool) {
	st := ScheduleType(strings.ToLower(strings.TrimSpace(value)))
	if st.Valid() {
		return st, true
	}
	return "", false
}

// SchedulerJob binds a job definition to a schedule. The name is the
// primary key; task_name and config form the broker payload.
type SchedulerJob struct {
	Name            string          `json:"name"                       db:"name"`
	TaskName        string          `json:"task_name"                  db:"task_name"`
	Config          json.RawMessage `json:"config"                     db:"config"`
	Enabled         bool            `json:"enabled"                    db:"enabled"`
	ScheduleType    ScheduleType    `json:"schedule_type"              db:"schedule_type"`
	IntervalSeconds *int64          `json:"interval_seconds,omitempty" db:"interval_seconds"`
	CronExpression  *string         `json:"cron_expression,omitempty"  db:"cron_expression"`
	StartAt         *time.Time      `json:"start_at,omitempty"         db:"start_at"`
	EndAt           *time.Time      `json:"end_at,omitempty"           db:"end_at"`
	MaxRuns         *int            `json:"max_runs,omitempty"         db:"max_runs"`
	RunCount        int             `json:"run_count"                  db:"run_count"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"      db:"last_run_at"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"      db:"next_run_at"`
	CreatedAt       time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"                 db:"updated_at"`
}

// RunsExhausted reports whether the job has reached its max_runs bound.
func (j *SchedulerJob) RunsExhausted() bool {
	return j.MaxRuns != nil && j.RunCount >= *j.MaxRuns
}

// Due reports whether the job should dispatch at the given instant.
// Mirrors the persistence-side due predicate so callers can re-check
// under a lock without another round trip.
func (j *SchedulerJob) Due(now time.Time) bool {
	if !j.Enabled || j.RunsExhausted() {
		return false
	}
	if j.StartAt != nil && now.Before(*j.StartAt) {
		return false
	}
	if j.EndAt != nil && now.After(*j.EndAt) {
		return false
	}
	if j.NextRunAt == nil {
		// A nil next_run_at after a run means the schedule could not be
		// advanced (malformed cron); the job stays parked until re-armed.
		return j.LastRunAt == nil
	}
	return !j.NextRunAt.After(now)
}

// SchedulerJobsListOptions controls filtering for listing scheduler jobs.
// Notes:
// - Enabled and TaskName match exactly.
// - Q matches name via ILIKE substring.
type SchedulerJobsListOptions struct {
	Limit    int
	Offset   int
	Enabled  *bool
	TaskName *string
	Q        *string
}

// UpsertSchedulerJobRequest creates or replaces a scheduler job by name.
type UpsertSchedulerJobRequest struct {
	Name            string          `json:"name"`
	TaskName        string          `json:"task_name"`
	Config          json.RawMessage `json:"config,omitempty"`
	Enabled         *bool           `json:"enabled,omitempty"`
	ScheduleType    ScheduleType    `json:"schedule_type"`
	IntervalSeconds *int64          `json:"interval_seconds,omitempty"`
	CronExpression  *string         `json:"cron_expression,omitempty"`
	StartAt         *time.Time      `json:"start_at,omitempty"`
	EndAt           *time.Time      `json:"end_at,omitempty"`
	MaxRuns         *int            `json:"max_runs,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
}

// Normalize normalizes the UpsertSchedulerJobRequest fields.
func (r *UpsertSchedulerJobRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.TaskName = strings.TrimSpace(r.TaskName)
	r.ScheduleType = ScheduleType(strings.ToLower(strings.TrimSpace(string(r.ScheduleType))))
	if r.CronExpression != nil {
		trimmed := strings.TrimSpace(*r.CronExpression)
		r.CronExpression = &trimmed
	}
}

// Validate validates the UpsertSchedulerJobRequest fields. Exactly one of
// interval_seconds or cron_expression must be populated, matching the
// schedule type.
func (r *UpsertSchedulerJobRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > maxJobNameLen {
		return errors.New("name exceeds maximum length")
	}
	if r.TaskName == "" {
		return errors.New("task_name is required")
	}
	if !r.ScheduleType.Valid() {
		return errors.New("invalid schedule_type")
	}

	switch r.ScheduleType {
	case ScheduleTypeInterval:
		if r.IntervalSeconds == nil {
			return errors.New("interval_seconds is required for interval schedules")
		}
		if *r.IntervalSeconds <= 0 {
			return errors.New("interval_seconds must be positive")
		}
		if r.CronExpression != nil && *r.CronExpression != "" {
			return errors.New("cron_expression must be empty for interval schedules")
		}
	case ScheduleTypeCron:
		if r.CronExpression == nil || *r.CronExpression == "" {
			return errors.New("cron_expression is required for cron schedules")
		}
		if r.IntervalSeconds != nil {
			return errors.New("interval_seconds must be empty for cron schedules")
		}
	}

	if r.StartAt != nil && r.EndAt != nil && !r.StartAt.Before(*r.EndAt) {
		return errors.New("start_at must be before end_at")
	}
	if r.MaxRuns != nil && *r.MaxRuns <= 0 {
		return errors.New("max_runs must be positive")
	}
	return nil
}

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Enqueued  []string          `json:"enqueued"`
	Failed    []string          `json:"failed"`
	TimedOut  []ReapedExecution `json:"timed_out"`
	Timestamp time.Time         `json:"timestamp"`
}
