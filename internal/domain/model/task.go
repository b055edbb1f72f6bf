package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the broker-side lifecycle of a queued task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting in its queue.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker has claimed the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the worker finished without error.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the worker finished with an error.
	TaskStatusFailed TaskStatus = "failed"
)

// Task names route queue envelopes to worker handlers. Scheduler jobs may
// name any registered handler in task_name; the engine's fan-out always
// shards under TaskNameRunActionShard unless the action overrides it.
const (
	// TaskNameRunJob runs a job definition through the engine. Payload is the
	// scheduler job config naming a definition_id or definition_name.
	TaskNameRunJob = "run_job"
	// TaskNameRunActionShard runs one action against one target, as dispatched
	// by a distributed action's fan-out group.
	TaskNameRunActionShard = "run_action_shard"
	// TaskNameRunDiscovery runs the discovery pipeline. Payload is a
	// DiscoveryConfig document.
	TaskNameRunDiscovery = "run_discovery"
)

var (
	// ErrNoTasksAvailable is returned when a blocking fetch times out with no task.
	ErrNoTasksAvailable = errors.New("no tasks available")
	// ErrTaskNotPending is returned when a claim is attempted on a task that
	// is canceled, already claimed, or whose state has expired. Workers skip
	// such deliveries.
	ErrTaskNotPending = errors.New("task is not pending")
	// ErrTaskStateNotFound is returned when a task state has expired or never existed.
	ErrTaskStateNotFound = errors.New("task state not found")
	// ErrGroupNotFound is returned when a group has been pruned or never existed.
	ErrGroupNotFound = errors.New("task group not found")
)

// Valid returns true if the TaskStatus is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses parse from
// broker hashes and env config.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	v := TaskStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TaskStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Task is the queue envelope handed to workers. Name selects the handler;
// Payload is the scheduler job config (or a per-target shard for groups).
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	GroupID    string          `json:"group_id,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Validate checks that the task envelope is well formed.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Name == "" {
		return errors.New("task name is required")
	}
	return nil
}

// TaskState is the broker-side progress record for a task, stored with a
// TTL so abandoned entries age out on their own.
type TaskState struct {
	Status    TaskStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GroupShard is the terminal record of one member task in a group.
type GroupShard struct {
	TaskID string          `json:"task_id"`
	Status TaskStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// GroupState is a point-in-time view of a fan-out group. Shards appear as
// member tasks reach a terminal status; Expected is fixed at enqueue time.
type GroupState struct {
	ID       string       `json:"id"`
	Expected int          `json:"expected"`
	Shards   []GroupShard `json:"shards,omitempty"`
}

// Settled reports whether every expected shard has reached a terminal
// status. Pollers stop on Settled or on their own deadline, whichever
// comes first.
func (g *GroupState) Settled() bool {
	if g.Expected <= 0 {
		return true
	}
	terminal := 0
	for i := range g.Shards {
		if g.Shards[i].Status.Terminal() {
			terminal++
		}
	}
	return terminal >= g.Expected
}

// FailedShards returns the shards that ended in failure.
func (g *GroupState) FailedShards() []GroupShard {
	var failed []GroupShard
	for i := range g.Shards {
		if g.Shards[i].Status == TaskStatusFailed {
			failed = append(failed, g.Shards[i])
		}
	}
	return failed
}
