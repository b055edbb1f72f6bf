package model

import "time"

// Audit event kinds emitted by the job engine.
const (
	AuditJobStarted      = "job_started"
	AuditActionStarted   = "action_started"
	AuditActionCompleted = "action_completed"
	AuditJobCompleted    = "job_completed"
)

// AuditEvent is one engine lifecycle record. Writes are fire-and-forget;
// failures are logged and swallowed.
type AuditEvent struct {
	Kind        string    `json:"kind"`
	JobName     string    `json:"job_name"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ActionID    string    `json:"action_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
