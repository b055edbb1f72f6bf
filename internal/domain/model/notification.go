package model

import "time"

// NotificationEvent is one action outcome offered to the notify sinks.
// Title, Body, and Tag are preformatted by the engine; delivery failures are
// logged and swallowed and never change the run outcome.
type NotificationEvent struct {
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	JobName     string    `json:"job_name"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ActionID    string    `json:"action_id,omitempty"`
	Status      string    `json:"status"`
	Targets     []string  `json:"targets,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Failure reports whether the event describes a failed outcome.
func (e *NotificationEvent) Failure() bool {
	return e.Status == string(ActionStatusFailure) || e.Status == string(RunStatusFailure)
}
