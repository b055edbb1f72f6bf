package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/testutil"
)

// seedFinishedExecution inserts one terminal execution row with a backdated
// finished_at, bypassing the repo so retention tests control timestamps.
func seedFinishedExecution(t *testing.T, db *sql.DB, jobName, taskID, status string, finishedAt time.Time) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO scheduler_job_executions (job_name, task_name, task_id, status, started_at, finished_at)
		VALUES ($1, 'run_job', $2, $3, $4, $5)
	`, jobName, taskID, status, finishedAt.Add(-time.Minute), finishedAt)
	require.NoError(t, err)
}

func countExecutions(t *testing.T, db *sql.DB, jobName string) int {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM scheduler_job_executions WHERE job_name = $1", jobName,
	).Scan(&count))
	return count
}

func TestReaperRepo_DeleteOldExecutions(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := time.Now().UTC()
		jobName := fmt.Sprintf("reap_exec_%d", now.UnixNano())
		repo := NewReaperRepo(db)
		ctx := context.Background()

		// Aged terminal rows in every terminal status.
		seedFinishedExecution(t, db, jobName, jobName+"_old_ok", "success", now.Add(-50*time.Hour))
		seedFinishedExecution(t, db, jobName, jobName+"_old_fail", "failed", now.Add(-48*time.Hour))
		seedFinishedExecution(t, db, jobName, jobName+"_old_timeout", "timeout", now.Add(-47*time.Hour))
		// Recent terminal row stays.
		seedFinishedExecution(t, db, jobName, jobName+"_recent", "success", now.Add(-time.Hour))
		// Open rows are never retention targets, however old; the stale
		// sweep owns those.
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_job_executions (job_name, task_name, task_id, status, started_at)
			VALUES ($1, 'run_job', $2, 'queued', $3)
		`, jobName, jobName+"_open", now.Add(-72*time.Hour))
		require.NoError(t, err)

		deleted, err := repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
			Before: now.Add(-24 * time.Hour),
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
		assert.Equal(t, 2, countExecutions(t, db, jobName))

		// A second sweep finds nothing left to delete.
		deleted, err = repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
			Before: now.Add(-24 * time.Hour),
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)
	})
}

func TestReaperRepo_DeleteOldExecutions_BoundedBatches(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := time.Now().UTC()
		jobName := fmt.Sprintf("reap_batch_%d", now.UnixNano())
		repo := NewReaperRepo(db)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			seedFinishedExecution(t, db, jobName,
				fmt.Sprintf("%s_t%d", jobName, i),
				"success", now.Add(-time.Duration(50-i)*time.Hour))
		}

		params := core.DeleteOldExecutionsParams{Before: now.Add(-24 * time.Hour), Limit: 2}

		deleted, err := repo.DeleteOldExecutions(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
		assert.Equal(t, 3, countExecutions(t, db, jobName))

		// Oldest finished rows go first.
		var remaining int
		require.NoError(t, db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM scheduler_job_executions
			WHERE job_name = $1 AND task_id IN ($2, $3)
		`, jobName, jobName+"_t0", jobName+"_t1").Scan(&remaining))
		assert.Equal(t, 0, remaining)

		deleted, err = repo.DeleteOldExecutions(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		deleted, err = repo.DeleteOldExecutions(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
		assert.Equal(t, 0, countExecutions(t, db, jobName))
	})
}

func TestReaperRepo_DeleteOldExecutions_SkipsWhenLockHeld(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := time.Now().UTC()
		jobName := fmt.Sprintf("reap_lock_%d", now.UnixNano())
		repo := NewReaperRepo(db)
		ctx := context.Background()

		seedFinishedExecution(t, db, jobName, jobName+"_old", "success", now.Add(-48*time.Hour))

		// Hold the retention lock from another session, as a concurrent
		// reaper instance would.
		holder, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		var locked bool
		require.NoError(t, holder.QueryRowContext(ctx,
			"SELECT pg_try_advisory_xact_lock($1, $2)",
			advisoryLockRetentionMajor, advisoryLockRetentionExecutions,
		).Scan(&locked))
		require.True(t, locked)

		params := core.DeleteOldExecutionsParams{Before: now.Add(-24 * time.Hour), Limit: 100}

		deleted, err := repo.DeleteOldExecutions(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)
		assert.Equal(t, 1, countExecutions(t, db, jobName))

		require.NoError(t, holder.Rollback())

		deleted, err = repo.DeleteOldExecutions(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})
}

func TestReaperRepo_DeleteOldExecutions_Invalid(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReaperRepo(db)
		ctx := context.Background()

		_, err := repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{Limit: 100})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cutoff is required")

		_, err = repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
			Before: time.Now().UTC(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be greater than zero")
	})
}

func TestReaperRepo_DeleteOldOpticalReadings(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := time.Now().UTC()
		repo := NewReaperRepo(db)
		ctx := context.Background()
		ip := "192.0.2.70"

		seedReading := func(ifindex int, recordedAt time.Time) {
			_, err := db.ExecContext(ctx, `
				INSERT INTO optical_power_readings (ip_address, ifindex, tx_power_dbm, recorded_at)
				VALUES ($1, $2, -2.5, $3)
			`, ip, ifindex, recordedAt)
			require.NoError(t, err)
		}

		// 8 days of daily samples on one interface; keep the last 3 days.
		for day := 1; day <= 8; day++ {
			seedReading(49, now.Add(-time.Duration(day)*24*time.Hour))
		}

		// Cutoff falls between the day-3 and day-4 samples.
		cutoff := now.Add(-84 * time.Hour)

		deleted, err := repo.DeleteOldOpticalReadings(ctx, core.DeleteOldOpticalReadingsParams{
			Before: cutoff,
			Limit:  3,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)

		deleted, err = repo.DeleteOldOpticalReadings(ctx, core.DeleteOldOpticalReadingsParams{
			Before: cutoff,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		// Only samples newer than the cutoff survive.
		var survivors int
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM optical_power_readings WHERE ip_address = $1", ip,
		).Scan(&survivors))
		assert.Equal(t, 3, survivors)

		var oldest time.Time
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT MIN(recorded_at) FROM optical_power_readings WHERE ip_address = $1", ip,
		).Scan(&oldest))
		assert.True(t, oldest.After(cutoff))
	})
}

func TestReaperRepo_DeleteOldOpticalReadings_Invalid(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReaperRepo(db)
		ctx := context.Background()

		_, err := repo.DeleteOldOpticalReadings(ctx, core.DeleteOldOpticalReadingsParams{Limit: 10})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cutoff is required")

		_, err = repo.DeleteOldOpticalReadings(ctx, core.DeleteOldOpticalReadingsParams{
			Before: time.Now().UTC(),
			Limit:  -1,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be greater than zero")
	})
}
