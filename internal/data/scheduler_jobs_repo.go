// Package data provides PostgreSQL and Redis backed repositories for the
// netops scheduler, job engine, and discovery pipeline.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data/pgxutil"
	"github.com/target/netops-go/internal/domain/model"
)

// SchedulerJobsRepo provides the concurrency-safe scheduler job operations
// used by the tick loop. Admin CRUD lives on SchedulerJobsAdminRepo.
type SchedulerJobsRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewSchedulerJobsRepo creates a new SchedulerJobsRepo instance with the given database connection.
func NewSchedulerJobsRepo(db *sql.DB) *SchedulerJobsRepo {
	return &SchedulerJobsRepo{
		DB:    db,
		clock: SystemClock{},
	}
}

// NewSchedulerJobsRepoWithClock creates a SchedulerJobsRepo with a pinned clock for tests.
func NewSchedulerJobsRepoWithClock(db *sql.DB, clock Clock) *SchedulerJobsRepo {
	return &SchedulerJobsRepo{
		DB:    db,
		clock: clock,
	}
}

// fnvHash computes FNV-1a 64-bit hash of the given string for use as advisory lock key.
func fnvHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// Advisory locks accept BIGINT; constrain the unsigned hash into int64 range before casting.
	u := h.Sum64()
	if u > uint64(math.MaxInt64) {
		u %= uint64(math.MaxInt64)
	}
	return int64(u) // #nosec G115 -- value is explicitly bounded to <= MaxInt64 before casting to int64.
}

const schedulerJobColumns = `
  name,
  task_name,
  config,
  enabled,
  schedule_type,
  interval_seconds,
  cron_expression,
  start_at,
  end_at,
  max_runs,
  run_count,
  last_run_at,
  next_run_at,
  created_at,
  updated_at
`

// FindDue finds scheduler jobs that are due for dispatch.
// Uses FOR UPDATE SKIP LOCKED so concurrent schedulers never pick the same rows.
// A job is due when it is enabled, run_count has not reached max_runs, now
// falls inside the optional [start_at, end_at] window, and next_run_at <= now.
// A NULL next_run_at counts as due only before the first run: after a run it
// means the schedule could not be advanced (malformed cron) and the job stays
// parked until re-armed.
func (r *SchedulerJobsRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]model.SchedulerJob, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + schedulerJobColumns + `
		FROM scheduler_jobs
		WHERE enabled
		  AND (max_runs IS NULL OR run_count < max_runs)
		  AND (start_at IS NULL OR start_at <= $1)
		  AND (end_at IS NULL OR end_at >= $1)
		  AND ((next_run_at IS NULL AND last_run_at IS NULL) OR next_run_at <= $1)
		ORDER BY next_run_at ASC NULLS FIRST, name ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	var jobs []model.SchedulerJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, query, now.UTC(), limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToSchedulerJob)
		if collectErr != nil {
			return collectErr
		}
		jobs = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query due scheduler jobs: %w", err)
	}

	return jobs, nil
}

// GetTx re-reads one job by name inside an existing transaction with a row
// lock, so the caller can re-check the due predicate under the advisory lock.
// Returns nil when the job no longer exists.
func (r *SchedulerJobsRepo) GetTx(ctx context.Context, tx *sql.Tx, name string) (*model.SchedulerJob, error) {
	query := `
		SELECT ` + schedulerJobColumns + `
		FROM scheduler_jobs
		WHERE name = $1
		FOR UPDATE
	`

	job, err := scanSchedulerJob(tx.QueryRowContext(ctx, query, name).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scheduler job (tx): %w", err)
	}
	return job, nil
}

// MarkRunTx records a successful dispatch within an existing transaction.
// Atomically sets last_run_at, next_run_at and increments run_count.
// Return semantics:
//   - (true, nil): job found and updated
//   - (false, nil): job not found
//   - (false, err): update failed due to error
func (r *SchedulerJobsRepo) MarkRunTx(ctx context.Context, tx *sql.Tx, p core.MarkRunParams) (bool, error) {
	currentTime := r.clock.Now()

	var nextRunAt any
	if p.NextRunAt != nil {
		nextRunAt = p.NextRunAt.UTC()
	}

	query := `
		UPDATE scheduler_jobs
		SET last_run_at = $2,
		    next_run_at = $3,
		    run_count = run_count + 1,
		    updated_at = $4
		WHERE name = $1
	`

	res, err := tx.ExecContext(ctx, query, p.Name, p.RanAt.UTC(), nextRunAt, currentTime.UTC())
	if err != nil {
		return false, fmt.Errorf("mark scheduler job run (tx): %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected (tx): %w", err)
	}

	return rowsAffected > 0, nil
}

// TryWithJobLock attempts to acquire an advisory lock for the given job name.
// Uses FNV-1a 64-bit hash of the name for the lock key.
// If the lock is acquired, executes fn within the same transaction.
// Return semantics:
//   - (false, nil): lock not acquired; fn was not executed
//   - (true, nil): lock acquired; fn executed and succeeded
//   - (true, err): lock acquired; fn executed and failed with err
func (r *SchedulerJobsRepo) TryWithJobLock(
	ctx context.Context,
	name string,
	fn func(context.Context, *sql.Tx) error,
) (bool, error) {
	lockKey := fnvHash(name)

	var locked bool
	var fnErr error

	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			// Try to acquire advisory lock within transaction
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock for job %s: %w", name, err)
			}

			if !locked {
				return nil // Lock not acquired, but no error
			}

			// Lock acquired, execute function with the same transaction
			fnErr = fn(ctx, tx)
			// Don't return fnErr here - we want to commit the transaction regardless
			// The function error will be returned separately
			return nil
		},
	})
	if err != nil {
		return false, err
	}

	return locked, fnErr
}

// schedulerJobRow matches the scheduler_jobs schema exactly, allowing
// pgx.RowToStructByName to work.
type schedulerJobRow struct {
	Name            string         `db:"name"`
	TaskName        string         `db:"task_name"`
	Config          []byte         `db:"config"`
	Enabled         bool           `db:"enabled"`
	ScheduleType    string         `db:"schedule_type"`
	IntervalSeconds sql.NullInt64  `db:"interval_seconds"`
	CronExpression  sql.NullString `db:"cron_expression"`
	StartAt         sql.NullTime   `db:"start_at"`
	EndAt           sql.NullTime   `db:"end_at"`
	MaxRuns         sql.NullInt32  `db:"max_runs"`
	RunCount        int            `db:"run_count"`
	LastRunAt       sql.NullTime   `db:"last_run_at"`
	NextRunAt       sql.NullTime   `db:"next_run_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// toModel converts a schedulerJobRow to model.SchedulerJob.
func (r *schedulerJobRow) toModel() model.SchedulerJob {
	if r == nil {
		return model.SchedulerJob{}
	}

	job := model.SchedulerJob{
		Name:         r.Name,
		TaskName:     r.TaskName,
		Enabled:      r.Enabled,
		ScheduleType: model.ScheduleType(r.ScheduleType),
		RunCount:     r.RunCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	if r.Config != nil {
		job.Config = json.RawMessage(r.Config)
	}
	if r.IntervalSeconds.Valid {
		v := r.IntervalSeconds.Int64
		job.IntervalSeconds = &v
	}
	if r.CronExpression.Valid && r.CronExpression.String != "" {
		v := r.CronExpression.String
		job.CronExpression = &v
	}
	if r.StartAt.Valid {
		t := r.StartAt.Time
		job.StartAt = &t
	}
	if r.EndAt.Valid {
		t := r.EndAt.Time
		job.EndAt = &t
	}
	if r.MaxRuns.Valid {
		v := int(r.MaxRuns.Int32)
		job.MaxRuns = &v
	}
	if r.LastRunAt.Valid {
		t := r.LastRunAt.Time
		job.LastRunAt = &t
	}
	if r.NextRunAt.Valid {
		t := r.NextRunAt.Time
		job.NextRunAt = &t
	}

	return job
}

// rowToSchedulerJob maps a pgx row to model.SchedulerJob using pgx v5 generics.
func rowToSchedulerJob(row pgx.CollectableRow) (model.SchedulerJob, error) {
	dbRow, err := pgx.RowToStructByName[schedulerJobRow](row)
	if err != nil {
		return model.SchedulerJob{}, fmt.Errorf("scan scheduler job row: %w", err)
	}
	return dbRow.toModel(), nil
}

// scanSchedulerJob scans one scheduler job through a database/sql Scan
// function, in schedulerJobColumns order.
func scanSchedulerJob(scan func(dest ...any) error) (*model.SchedulerJob, error) {
	var row schedulerJobRow
	err := scan(
		&row.Name,
		&row.TaskName,
		&row.Config,
		&row.Enabled,
		&row.ScheduleType,
		&row.IntervalSeconds,
		&row.CronExpression,
		&row.StartAt,
		&row.EndAt,
		&row.MaxRuns,
		&row.RunCount,
		&row.LastRunAt,
		&row.NextRunAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job := row.toModel()
	return &job, nil
}
