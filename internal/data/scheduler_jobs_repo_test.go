package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/testutil"
)

func TestSchedulerJobsRepo_FindDue(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		// Use unique job names to avoid conflicts with other tests
		jobPrefix := fmt.Sprintf("finddue_%d_", now.UnixNano())

		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_jobs
				(name, task_name, schedule_type, interval_seconds, cron_expression, enabled, next_run_at, max_runs, run_count, start_at, end_at, last_run_at)
			VALUES
				($1, 'run_job', 'interval', 300, NULL, TRUE, NULL,     NULL, 0, NULL, NULL, NULL),
				($2, 'run_job', 'interval', 300, NULL, TRUE, $9,       NULL, 0, NULL, NULL, NULL),
				($3, 'run_job', 'interval', 300, NULL, TRUE, $10,      NULL, 0, NULL, NULL, NULL),
				($4, 'run_job', 'interval', 300, NULL, FALSE, NULL,    NULL, 0, NULL, NULL, NULL),
				($5, 'run_job', 'interval', 300, NULL, TRUE, NULL,     3,    3, NULL, NULL, NULL),
				($6, 'run_job', 'interval', 300, NULL, TRUE, NULL,     NULL, 0, $10,  NULL, NULL),
				($7, 'run_job', 'interval', 300, NULL, TRUE, NULL,     NULL, 0, NULL, $9,   NULL),
				($8, 'run_job', 'cron', NULL, '* * * *', TRUE, NULL,   NULL, 1, NULL, NULL, $9)
		`,
			jobPrefix+"never_ran", jobPrefix+"past_due", jobPrefix+"future",
			jobPrefix+"disabled", jobPrefix+"exhausted", jobPrefix+"not_started", jobPrefix+"ended",
			jobPrefix+"parked",
			now.Add(-5*time.Minute), now.Add(1*time.Hour))
		require.NoError(t, err)

		allJobs, err := repo.FindDue(ctx, now, 500)
		require.NoError(t, err)

		// Filter to only our test jobs
		var ourJobs []string
		for _, job := range allJobs {
			if strings.HasPrefix(job.Name, jobPrefix) {
				ourJobs = append(ourJobs, job.Name)
			}
		}

		// Should find:
		// - never_ran (next_run_at NULL, never ran)
		// - past_due (next_run_at 5 minutes ago)
		// Should NOT find:
		// - future (next_run_at 1 hour out)
		// - disabled
		// - exhausted (run_count reached max_runs)
		// - not_started (start_at in the future)
		// - ended (end_at in the past)
		// - parked (next_run_at NULL after a run: malformed cron)
		assert.Len(t, ourJobs, 2)
		assert.Contains(t, ourJobs, jobPrefix+"never_ran")
		assert.Contains(t, ourJobs, jobPrefix+"past_due")
	})
}

func TestSchedulerJobsRepo_FindDue_NullsFirst(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		jobPrefix := fmt.Sprintf("nullsfirst_%d_", now.UnixNano())
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_jobs (name, task_name, schedule_type, interval_seconds, enabled, next_run_at)
			VALUES
				($1, 'run_job', 'interval', 300, TRUE, $3),
				($2, 'run_job', 'interval', 300, TRUE, NULL)
		`, jobPrefix+"a_scheduled", jobPrefix+"b_never_ran", now.Add(-time.Hour))
		require.NoError(t, err)

		allJobs, err := repo.FindDue(ctx, now, 500)
		require.NoError(t, err)

		var ourJobs []string
		for _, job := range allJobs {
			if strings.HasPrefix(job.Name, jobPrefix) {
				ourJobs = append(ourJobs, job.Name)
			}
		}

		// Jobs that never ran sort ahead of jobs with a past next_run_at.
		require.Len(t, ourJobs, 2)
		assert.Equal(t, jobPrefix+"b_never_ran", ourJobs[0])
		assert.Equal(t, jobPrefix+"a_scheduled", ourJobs[1])
	})
}

func TestSchedulerJobsRepo_FindDue_WithLimit(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		jobPrefix := fmt.Sprintf("limit_test_%d_", now.UnixNano())
		for i := 1; i <= 5; i++ {
			_, err := db.ExecContext(ctx, `
				INSERT INTO scheduler_jobs (name, task_name, schedule_type, interval_seconds, enabled)
				VALUES ($1, 'run_job', 'interval', 300, TRUE)
			`, fmt.Sprintf("%sjob_%d", jobPrefix, i))
			require.NoError(t, err)
		}

		jobs, err := repo.FindDue(ctx, now, 3)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})
}

func TestSchedulerJobsRepo_FindDue_InvalidLimit(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now()

		_, err := repo.FindDue(ctx, now, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be positive")

		_, err = repo.FindDue(ctx, now, -1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be positive")
	})
}

func TestSchedulerJobsRepo_GetTx(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		jobName := fmt.Sprintf("gettx_test_%d", now.UnixNano())
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_jobs (name, task_name, schedule_type, interval_seconds, enabled, max_runs)
			VALUES ($1, 'run_job', 'interval', 600, TRUE, 10)
		`, jobName)
		require.NoError(t, err)

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()

		job, err := repo.GetTx(ctx, tx, jobName)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobName, job.Name)
		assert.Equal(t, "run_job", job.TaskName)
		require.NotNil(t, job.IntervalSeconds)
		assert.Equal(t, int64(600), *job.IntervalSeconds)
		require.NotNil(t, job.MaxRuns)
		assert.Equal(t, 10, *job.MaxRuns)

		// Missing jobs come back nil without an error
		missing, err := repo.GetTx(ctx, tx, jobName+"_missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestSchedulerJobsRepo_MarkRunTx(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		clock := FixedClock{At: time.Now()}
		repo := NewSchedulerJobsRepoWithClock(db, clock)
		ctx := context.Background()
		now := time.Now().UTC()

		jobName := fmt.Sprintf("markrun_test_%d", now.UnixNano())
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_jobs (name, task_name, schedule_type, interval_seconds, enabled)
			VALUES ($1, 'run_job', 'interval', 300, TRUE)
		`, jobName)
		require.NoError(t, err)

		nextRun := now.Add(5 * time.Minute)

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		found, err := repo.MarkRunTx(ctx, tx, core.MarkRunParams{
			Name:      jobName,
			RanAt:     now,
			NextRunAt: &nextRun,
		})
		require.NoError(t, err)
		assert.True(t, found)
		require.NoError(t, tx.Commit())

		// Verify the update
		var runCount int
		var lastRunAt, nextRunAt sql.NullTime
		err = db.QueryRowContext(ctx,
			"SELECT run_count, last_run_at, next_run_at FROM scheduler_jobs WHERE name = $1", jobName).
			Scan(&runCount, &lastRunAt, &nextRunAt)
		require.NoError(t, err)
		assert.Equal(t, 1, runCount)
		assert.True(t, lastRunAt.Valid)
		assert.WithinDuration(t, now, lastRunAt.Time, time.Second)
		assert.True(t, nextRunAt.Valid)
		assert.WithinDuration(t, nextRun, nextRunAt.Time, time.Second)
	})
}

func TestSchedulerJobsRepo_MarkRunTx_NilNextRun(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		jobName := fmt.Sprintf("markrun_nil_%d", now.UnixNano())
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_jobs (name, task_name, schedule_type, interval_seconds, enabled, next_run_at)
			VALUES ($1, 'run_job', 'interval', 300, TRUE, $2)
		`, jobName, now.Add(-time.Minute))
		require.NoError(t, err)

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		found, err := repo.MarkRunTx(ctx, tx, core.MarkRunParams{
			Name:  jobName,
			RanAt: now,
		})
		require.NoError(t, err)
		assert.True(t, found)
		require.NoError(t, tx.Commit())

		// A nil NextRunAt clears the column
		var nextRunAt sql.NullTime
		err = db.QueryRowContext(ctx,
			"SELECT next_run_at FROM scheduler_jobs WHERE name = $1", jobName).Scan(&nextRunAt)
		require.NoError(t, err)
		assert.False(t, nextRunAt.Valid)
	})
}

func TestSchedulerJobsRepo_MarkRunTx_NotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()

		found, err := repo.MarkRunTx(ctx, tx, core.MarkRunParams{
			Name:  fmt.Sprintf("markrun_missing_%d", now.UnixNano()),
			RanAt: now,
		})
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestSchedulerJobsRepo_TryWithJobLock(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()

		executed := false
		jobName := "test_job"

		// Test successful lock acquisition and execution
		locked, err := repo.TryWithJobLock(
			ctx,
			jobName,
			func(_ context.Context, _ *sql.Tx) error {
				executed = true
				return nil
			},
		)
		require.NoError(t, err)
		assert.True(t, locked)
		assert.True(t, executed)
	})
}

func TestSchedulerJobsRepo_TryWithJobLock_FunctionError(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()

		jobName := "function_error_test_job"
		expectedErr := errors.New("function failed")

		// Test lock acquired but function fails
		locked, err := repo.TryWithJobLock(
			ctx,
			jobName,
			func(_ context.Context, _ *sql.Tx) error {
				return expectedErr
			},
		)
		assert.True(t, locked, "Lock should be acquired")
		require.Error(t, err, "Function error should be returned")
		assert.Equal(t, expectedErr, err, "Should return the exact function error")
	})
}

func TestSchedulerJobsRepo_TryWithJobLock_Concurrent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsRepo(db)
		ctx := context.Background()
		jobName := "concurrent_job"

		// Channel to coordinate goroutines
		ready := make(chan struct{})
		results := make(chan bool, 2)

		// Start two goroutines trying to acquire the same lock
		for range 2 {
			go func() {
				<-ready // Wait for signal to start
				locked, err := repo.TryWithJobLock(
					ctx,
					jobName,
					func(_ context.Context, _ *sql.Tx) error {
						time.Sleep(100 * time.Millisecond) // Hold lock briefly
						return nil
					},
				)
				assert.NoError(t, err)
				results <- locked
			}()
		}

		// Signal both goroutines to start
		close(ready)

		// Collect results
		var lockResults []bool
		for range 2 {
			lockResults = append(lockResults, <-results)
		}

		// Exactly one should have acquired the lock
		lockedCount := 0
		for _, locked := range lockResults {
			if locked {
				lockedCount++
			}
		}
		assert.Equal(t, 1, lockedCount, "Exactly one goroutine should acquire the lock")
	})
}

func TestFnvHash(t *testing.T) {
	// Test that the same string produces the same hash
	hash1 := fnvHash("test_job")
	hash2 := fnvHash("test_job")
	assert.Equal(t, hash1, hash2)

	// Test that different strings produce different hashes
	hash3 := fnvHash("different_job")
	assert.NotEqual(t, hash1, hash3)
}
