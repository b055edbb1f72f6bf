// Package core provides the business logic and service layer for the netops job system.
package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/target/netops-go/internal/domain/model"
)

// SchedulerJobsRepository defines the interface for scheduler job data operations.
// It provides concurrency-safe operations so multiple tick instances can share
// one Postgres without double-dispatching.
type SchedulerJobsRepository interface {
	// FindDue finds jobs that are due for dispatch at now.
	// A job is due when it is enabled, run_count has not reached max_runs,
	// now falls inside the optional [start_at, end_at] window, and
	// next_run_at IS NULL OR next_run_at <= now.
	// Rows are ordered next_run_at ASC NULLS FIRST and locked with
	// FOR UPDATE SKIP LOCKED so concurrent schedulers never pick the same row.
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.SchedulerJob, error)

	// GetTx re-reads one job by name inside an existing transaction with a row
	// lock, so the caller can re-check the due predicate under the advisory lock.
	// Returns nil when the job no longer exists.
	GetTx(ctx context.Context, tx *sql.Tx, name string) (*model.SchedulerJob, error)

	// MarkRunTx records a successful dispatch within an existing transaction.
	// Atomically sets last_run_at, next_run_at and increments run_count.
	// Return semantics:
	//   - (true, nil): job found and updated
	//   - (false, nil): job not found
	//   - (false, err): update failed due to error
	MarkRunTx(ctx context.Context, tx *sql.Tx, p MarkRunParams) (bool, error)

	// TryWithJobLock attempts to acquire an advisory lock for the given job name.
	// Uses FNV-1a 64-bit hash of the name for the lock key.
	// If the lock is acquired, executes fn within the same transaction.
	// Return semantics:
	//   - (false, nil): lock not acquired; fn was not executed
	//   - (true, nil): lock acquired; fn executed and succeeded
	//   - (true, err): lock acquired; fn executed and failed with err
	TryWithJobLock(
		ctx context.Context,
		name string,
		fn func(context.Context, *sql.Tx) error,
	) (bool, error)
}

// MarkRunParams records one dispatch of a scheduler job. NextRunAt nil
// leaves the job without a computed next run (cron parse failures); the due
// predicate then treats it as immediately due again, so callers disable the
// job or repair the expression out of band.
type MarkRunParams struct {
	Name      string
	RanAt     time.Time
	NextRunAt *time.Time
}

// SchedulerJobsAdminRepository defines the operator-facing CRUD surface for
// scheduler jobs. The tick path never uses these.
type SchedulerJobsAdminRepository interface {
	// Upsert creates or replaces a scheduler job by name.
	// Replacing preserves run_count and last_run_at; next_run_at is reset
	// only when the request carries an explicit NextRunAt.
	Upsert(ctx context.Context, req *model.UpsertSchedulerJobRequest) (*model.SchedulerJob, error)

	// Get fetches a job by name. Returns a not-found error when absent.
	Get(ctx context.Context, name string) (*model.SchedulerJob, error)

	// List returns jobs matching the options, ordered next_run_at ASC NULLS FIRST.
	List(ctx context.Context, opts model.SchedulerJobsListOptions) ([]model.SchedulerJob, error)

	// SetEnabled arms or disarms a job. Returns true if a row was updated.
	SetEnabled(ctx context.Context, name string, enabled bool) (bool, error)

	// SetNextRun overwrites next_run_at, re-arming a job whose schedule was
	// repaired. Returns true if a row was updated.
	SetNextRun(ctx context.Context, name string, nextRunAt *time.Time) (bool, error)

	// Delete removes a job by name. Returns true if a row was deleted.
	Delete(ctx context.Context, name string) (bool, error)
}

// TickScheduler defines the interface for the scheduler service.
type TickScheduler interface {
	// Tick dispatches due jobs, reaps stale executions, and reports what it did.
	Tick(ctx context.Context, now time.Time) (*model.TickResult, error)
}

// SchedulerConfig holds configuration for the scheduler tick.
type SchedulerConfig struct {
	TickInterval time.Duration `json:"tick_interval"`
	BatchSize    int           `json:"batch_size"`
	StaleAfter   time.Duration `json:"stale_after"`
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval: 30 * time.Second,
		BatchSize:    100,
		StaleAfter:   10 * time.Minute,
	}
}
