package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data/pgxutil"
	"github.com/target/netops-go/internal/domain/model"
)

// Advisory lock namespace for retention operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for netops retention operations.
const (
	advisoryLockRetentionMajor      = 2000
	advisoryLockRetentionExecutions = 1 // minor key for DeleteOldExecutions
	advisoryLockRetentionOptical    = 2 // minor key for DeleteOldOpticalReadings
)

// ReaperRepo deletes aged rows in bounded batches. Each operation takes a
// namespaced advisory lock so concurrent reaper instances never overlap, and
// deletes at most Limit rows per call to prevent long locks and I/O spikes.
type ReaperRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewReaperRepo creates a new ReaperRepo instance with the given database connection.
func NewReaperRepo(db *sql.DB) *ReaperRepo {
	return &ReaperRepo{DB: db, clock: SystemClock{}}
}

// NewReaperRepoWithClock injects the clock used for row timestamps; tests pin it.
func NewReaperRepoWithClock(db *sql.DB, clock Clock) *ReaperRepo {
	return &ReaperRepo{DB: db, clock: clock}
}

// DeleteOldExecutions removes terminal execution rows finished before the
// cutoff, at most Limit per call. Returns the number of rows deleted; zero
// with no error when another instance holds the lock.
func (r *ReaperRepo) DeleteOldExecutions(ctx context.Context, p core.DeleteOldExecutionsParams) (int64, error) {
	if p.Before.IsZero() {
		return 0, errors.New("cutoff is required")
	}
	if p.Limit <= 0 {
		return 0, errors.New("limit must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockRetentionMajor, advisoryLockRetentionExecutions).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM scheduler_job_executions
				WHERE id IN (
					SELECT id FROM scheduler_job_executions
					WHERE status IN ($1, $2, $3)
					  AND finished_at < $4
					ORDER BY finished_at
					LIMIT $5
				)
			`, string(model.ExecutionStatusSuccess), string(model.ExecutionStatusFailed),
				string(model.ExecutionStatusTimeout), p.Before.UTC(), p.Limit)
			if err != nil {
				return fmt.Errorf("delete old executions: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldOpticalReadings removes optical power samples recorded before the
// cutoff, at most Limit per call. Returns the number of rows deleted; zero
// with no error when another instance holds the lock.
func (r *ReaperRepo) DeleteOldOpticalReadings(
	ctx context.Context,
	p core.DeleteOldOpticalReadingsParams,
) (int64, error) {
	if p.Before.IsZero() {
		return 0, errors.New("cutoff is required")
	}
	if p.Limit <= 0 {
		return 0, errors.New("limit must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockRetentionMajor, advisoryLockRetentionOptical).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM optical_power_readings
				WHERE id IN (
					SELECT id FROM optical_power_readings
					WHERE recorded_at < $1
					ORDER BY recorded_at
					LIMIT $2
				)
			`, p.Before.UTC(), p.Limit)
			if err != nil {
				return fmt.Errorf("delete old optical readings: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
