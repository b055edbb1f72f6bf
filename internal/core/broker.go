package core

import (
	"context"
	"time"

	"github.com/target/netops-go/internal/domain/model"
)

// TaskBroker defines the queue contract between the scheduler, the job
// engine, and workers. Task ids are globally unique. Delivery is
// at-least-once; consumers make duplicate delivery idempotent at the
// job-run level.
type TaskBroker interface {
	// Enqueue pushes one task and returns its id. The task state is created
	// as pending with the broker's state TTL.
	Enqueue(ctx context.Context, p EnqueueParams) (string, error)

	// EnqueueGroup pushes one task per shard under a shared group id and
	// returns the group id. Group state tracks the expected shard count.
	EnqueueGroup(ctx context.Context, p EnqueueGroupParams) (string, error)

	// Fetch blocks up to block for the next task on the queue.
	// Returns model.ErrNoTasksAvailable when the wait times out.
	Fetch(ctx context.Context, queue string, block time.Duration) (*model.Task, error)

	// SetRunning marks a claimed task as running.
	SetRunning(ctx context.Context, taskID string) error

	// SetResult records a terminal status for a task and, when the task
	// belongs to a group, appends its shard record to the group.
	SetResult(ctx context.Context, p TaskResultParams) error

	// Inspect returns the current state of a task.
	// Returns a not-found error once the state TTL has expired.
	Inspect(ctx context.Context, taskID string) (*model.TaskState, error)

	// Cancel marks a pending task as failed with a cancellation error so
	// workers skip it on delivery. Returns false when the task already
	// reached a terminal state.
	Cancel(ctx context.Context, taskID string) (bool, error)

	// GroupState returns a point-in-time view of a fan-out group.
	GroupState(ctx context.Context, groupID string) (*model.GroupState, error)

	// PruneGroups deletes group records created before the cutoff.
	// Returns the number of groups removed.
	PruneGroups(ctx context.Context, before time.Time) (int, error)

	// Health checks broker connectivity.
	Health(ctx context.Context) error
}

// EnqueueParams groups parameters for TaskBroker.Enqueue.
type EnqueueParams struct {
	Queue   string
	Name    string
	Payload []byte
}

// EnqueueGroupParams groups parameters for TaskBroker.EnqueueGroup. Shards
// carry one payload per member task, enqueued in order.
type EnqueueGroupParams struct {
	Queue  string
	Name   string
	Shards [][]byte
}

// TaskResultParams groups parameters for TaskBroker.SetResult.
type TaskResultParams struct {
	TaskID string
	Status model.TaskStatus
	Result []byte
	Error  string
}
