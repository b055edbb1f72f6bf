package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/netops-go/internal/data/pgxutil"
	"github.com/target/netops-go/internal/domain/model"
)

// SchedulerJobsAdminRepo provides the operator-facing CRUD surface for
// scheduler jobs. This is separate from the concurrency-focused
// SchedulerJobsRepo used by the scheduler tick loop.
type SchedulerJobsAdminRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewSchedulerJobsAdminRepo creates a new SchedulerJobsAdminRepo instance with the given database connection.
func NewSchedulerJobsAdminRepo(db *sql.DB) *SchedulerJobsAdminRepo {
	return &SchedulerJobsAdminRepo{DB: db, clock: SystemClock{}}
}

// NewSchedulerJobsAdminRepoWithClock injects the clock used for row timestamps; tests pin it.
func NewSchedulerJobsAdminRepoWithClock(db *sql.DB, clock Clock) *SchedulerJobsAdminRepo {
	return &SchedulerJobsAdminRepo{DB: db, clock: clock}
}

// Upsert creates or replaces a scheduler job by name. The request is the
// source of truth for the schedule; run bookkeeping survives a replace:
// run_count and last_run_at are preserved, and next_run_at changes only when
// the request carries an explicit NextRunAt. Enabled defaults to true when
// omitted.
func (r *SchedulerJobsAdminRepo) Upsert(
	ctx context.Context,
	req *model.UpsertSchedulerJobRequest,
) (*model.SchedulerJob, error) {
	if req == nil {
		return nil, errors.New("upsert scheduler job request is required")
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	config := req.Config
	if config == nil {
		config = []byte("{}")
	}

	var intervalSeconds, cronExpression, startAt, endAt, maxRuns, nextRunAt any
	if req.IntervalSeconds != nil {
		intervalSeconds = *req.IntervalSeconds
	}
	if req.CronExpression != nil && *req.CronExpression != "" {
		cronExpression = *req.CronExpression
	}
	if req.StartAt != nil {
		startAt = req.StartAt.UTC()
	}
	if req.EndAt != nil {
		endAt = req.EndAt.UTC()
	}
	if req.MaxRuns != nil {
		maxRuns = *req.MaxRuns
	}
	resetNextRun := req.NextRunAt != nil
	if resetNextRun {
		nextRunAt = req.NextRunAt.UTC()
	}

	query := `
		INSERT INTO scheduler_jobs (
			name, task_name, config, enabled, schedule_type, interval_seconds,
			cron_expression, start_at, end_at, max_runs, next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (name) DO UPDATE
		SET task_name = EXCLUDED.task_name,
		    config = EXCLUDED.config,
		    enabled = EXCLUDED.enabled,
		    schedule_type = EXCLUDED.schedule_type,
		    interval_seconds = EXCLUDED.interval_seconds,
		    cron_expression = EXCLUDED.cron_expression,
		    start_at = EXCLUDED.start_at,
		    end_at = EXCLUDED.end_at,
		    max_runs = EXCLUDED.max_runs,
		    next_run_at = CASE WHEN $13 THEN EXCLUDED.next_run_at ELSE scheduler_jobs.next_run_at END,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + schedulerJobColumns

	job, err := scanSchedulerJob(r.DB.QueryRowContext(ctx, query,
		req.Name, req.TaskName, config, enabled, string(req.ScheduleType),
		intervalSeconds, cronExpression, startAt, endAt, maxRuns, nextRunAt,
		now, resetNextRun,
	).Scan)
	if err != nil {
		return nil, fmt.Errorf("upsert scheduler job: %w", err)
	}

	return job, nil
}

// Get fetches a job by name.
func (r *SchedulerJobsAdminRepo) Get(ctx context.Context, name string) (*model.SchedulerJob, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}

	query := `
		SELECT ` + schedulerJobColumns + `
		FROM scheduler_jobs
		WHERE name = $1
	`

	job, err := scanSchedulerJob(r.DB.QueryRowContext(ctx, query, name).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSchedulerJobNotFound
		}
		return nil, fmt.Errorf("get scheduler job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the options, ordered next_run_at ASC NULLS
// FIRST so the next job to fire sorts to the top.
func (r *SchedulerJobsAdminRepo) List(
	ctx context.Context,
	opts model.SchedulerJobsListOptions,
) ([]model.SchedulerJob, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	// The NULLS FIRST ordering is not expressible through the shared list
	// query builder, so the clauses are assembled by hand here.
	conditions := []string{}
	args := []any{}
	argIndex := 1

	if opts.Enabled != nil {
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", argIndex))
		args = append(args, *opts.Enabled)
		argIndex++
	}
	if opts.TaskName != nil {
		conditions = append(conditions, fmt.Sprintf("task_name = $%d", argIndex))
		args = append(args, *opts.TaskName)
		argIndex++
	}
	if opts.Q != nil && *opts.Q != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIndex))
		args = append(args, "%"+*opts.Q+"%")
		argIndex++
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(schedulerJobColumns)
	queryBuilder.WriteString(" FROM scheduler_jobs")
	if len(conditions) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(conditions, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY next_run_at ASC NULLS FIRST, name ASC")
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1))
	args = append(args, limit, offset)

	var jobs []model.SchedulerJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, queryBuilder.String(), args...)
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
		return nil, fmt.Errorf("list scheduler jobs: %w", err)
	}

	return jobs, nil
}

// SetEnabled arms or disarms a job. Returns true if a row was updated.
func (r *SchedulerJobsAdminRepo) SetEnabled(ctx context.Context, name string, enabled bool) (bool, error) {
	if name == "" {
		return false, errors.New("name is required")
	}

	query := `UPDATE scheduler_jobs SET enabled = $2, updated_at = $3 WHERE name = $1`
	res, err := r.DB.ExecContext(ctx, query, name, enabled, r.clock.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set scheduler job enabled: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// SetNextRun overwrites next_run_at, re-arming a job whose schedule was
// repaired out of band. Returns true if a row was updated.
func (r *SchedulerJobsAdminRepo) SetNextRun(ctx context.Context, name string, nextRunAt *time.Time) (bool, error) {
	if name == "" {
		return false, errors.New("name is required")
	}

	var next any
	if nextRunAt != nil {
		next = nextRunAt.UTC()
	}

	query := `UPDATE scheduler_jobs SET next_run_at = $2, updated_at = $3 WHERE name = $1`
	res, err := r.DB.ExecContext(ctx, query, name, next, r.clock.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set scheduler job next run: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete removes a job by name. Returns true if a row was deleted.
func (r *SchedulerJobsAdminRepo) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("name is required")
	}

	query := `DELETE FROM scheduler_jobs WHERE name = $1`
	res, err := r.DB.ExecContext(ctx, query, name)
	if err != nil {
		return false, fmt.Errorf("delete scheduler job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// normalizePagination normalizes limit and offset values for pagination.
func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
