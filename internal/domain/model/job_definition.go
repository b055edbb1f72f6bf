package model

import (
	"errors"
	"strings"
	"time"
)

// Error handling modes for a job definition's config.
const (
	ErrorHandlingContinue = "continue"
	ErrorHandlingAbort    = "abort"
)

// JobDefinition is the immutable contract of what a job executes. The
// actions list and free-form config are stored together in the definition
// document; the schedule lives separately on SchedulerJob rows.
type JobDefinition struct {
	ID          string         `json:"id"          db:"id"`
	Name        string         `json:"name"        db:"name"`
	Description string         `json:"description" db:"description"`
	Enabled     bool           `json:"enabled"     db:"enabled"`
	Actions     []Action       `json:"actions"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   time.Time      `json:"created_at"  db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"  db:"updated_at"`
}

// ErrorHandling returns the configured failure policy, defaulting to continue.
func (d *JobDefinition) ErrorHandling() string {
	if v, ok := d.Config["error_handling"].(string); ok && v == ErrorHandlingAbort {
		return ErrorHandlingAbort
	}
	return ErrorHandlingContinue
}

// EnabledActions returns the actions that participate in a run, in
// definition order.
func (d *JobDefinition) EnabledActions() []Action {
	out := make([]Action, 0, len(d.Actions))
	for _, a := range d.Actions {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// ActionByID returns the action with the given id, or nil.
func (d *JobDefinition) ActionByID(id string) *Action {
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i]
		}
	}
	return nil
}

// UpsertJobDefinitionRequest creates or replaces a job definition by id.
type UpsertJobDefinitionRequest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
	Actions     []Action       `json:"actions"`
	Config      map[string]any `json:"config,omitempty"`
}

// Normalize normalizes the UpsertJobDefinitionRequest fields.
func (r *UpsertJobDefinitionRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
}

// Validate validates the UpsertJobDefinitionRequest fields and every action.
func (r *UpsertJobDefinitionRequest) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > maxJobNameLen {
		return errors.New("name exceeds maximum length")
	}
	if len(r.Actions) == 0 {
		return errors.New("actions is required")
	}

	seen := make(map[string]struct{}, len(r.Actions))
	for i := range r.Actions {
		if err := r.Actions[i].Validate(); err != nil {
			return err
		}
		id := r.Actions[i].ID
		if _, dup := seen[id]; dup {
			return errors.New("duplicate action id: " + id)
		}
		seen[id] = struct{}{}
	}

	// Edge targets must name actions within the same definition.
	for i := range r.Actions {
		for _, e := range r.Actions[i].Edges {
			if _, ok := seen[e.To]; !ok {
				return errors.New("edge references unknown action: " + e.To)
			}
		}
	}
	return nil
}

// JobDefinitionsListOptions controls filtering for listing job definitions.
// Notes:
// - Enabled matches exactly.
// - Q matches name via ILIKE substring.
type JobDefinitionsListOptions struct {
	Limit   int
	Offset  int
	Enabled *bool
	Q       *string
}
