package model

import "time"

// RunStatus is the overall outcome of one job engine run.
type RunStatus string

const (
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailure   RunStatus = "failure"
	RunStatusCancelled RunStatus = "cancelled"
)

// ActionStatus is the outcome of one action within a run.
type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailure ActionStatus = "failure"
)

// NodeResult records how one action ended. Durations are measured from
// pre-resolve to post-sink in milliseconds.
type NodeResult struct {
	Status     ActionStatus   `json:"status"`
	OutputData map[string]any `json:"output_data,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMS int64          `json:"duration_ms"`
}

// ActionSummary is the compact per-action entry carried in a RunResult.
type ActionSummary struct {
	ActionID   string       `json:"action_id"`
	Label      string       `json:"label,omitempty"`
	Status     ActionStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// RunResult is the structured outcome of one job run. Status is failure iff
// any action ended in failure; cancelled when the run stopped cooperatively.
type RunResult struct {
	Status     RunStatus       `json:"status"`
	Actions    []ActionSummary `json:"actions"`
	Errors     []string        `json:"errors,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMS int64           `json:"duration_ms"`
}

// Failed reports whether any action in the result failed.
func (r *RunResult) Failed() bool {
	for i := range r.Actions {
		if r.Actions[i].Status == ActionStatusFailure {
			return true
		}
	}
	return false
}

// ExecutionContext is the per-run in-memory state threaded through the
// engine and its executors. It is owned by a single run and never shared
// across runs.
type ExecutionContext struct {
	WorkflowID   string
	WorkflowName string
	ExecutionID  string
	StartedAt    time.Time
	Variables    map[string]any
	NodeResults  map[string]NodeResult
}

// NewExecutionContext builds a context seeded with trigger data.
func NewExecutionContext(def *JobDefinition, executionID string, trigger map[string]any, startedAt time.Time) *ExecutionContext {
	vars := make(map[string]any)
	if trigger != nil {
		vars["trigger"] = trigger
	}
	return &ExecutionContext{
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		ExecutionID:  executionID,
		StartedAt:    startedAt,
		Variables:    vars,
		NodeResults:  make(map[string]NodeResult),
	}
}

// PublishOutput records an action result and exposes its output under the
// action id, its label, and the "results" alias.
func (c *ExecutionContext) PublishOutput(action *Action, result NodeResult) {
	c.NodeResults[action.ID] = result
	if result.OutputData == nil {
		return
	}
	c.Variables[action.ID] = result.OutputData
	if action.Label != "" {
		c.Variables[action.Label] = result.OutputData
	}
	c.Variables["results"] = result.OutputData
}

// TargetContext is per-target scratch state within one action: the target
// address, the last parsed object, and named stores populated by store_as.
type TargetContext struct {
	IP     string
	Parsed map[string]any
	Stores map[string][]map[string]any
}

// NewTargetContext builds an empty scratch context for one target.
func NewTargetContext(ip string) *TargetContext {
	return &TargetContext{
		IP:     ip,
		Stores: make(map[string][]map[string]any),
	}
}

// Store appends items under a named store key.
func (t *TargetContext) Store(key string, items []map[string]any) {
	t.Stores[key] = append(t.Stores[key], items...)
}
