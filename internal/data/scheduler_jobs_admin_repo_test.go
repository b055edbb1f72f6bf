package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/testutil"
)

func TestSchedulerJobsAdminRepo_Upsert_Insert(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		jobName := fmt.Sprintf("upsert_insert_%d", time.Now().UnixNano())
		req := testutil.NewSchedulerJob(jobName).
			WithTaskName("optics_sweep").
			WithConfigString(`{"definition_id": "optics-v1"}`).
			WithInterval(900).
			Build()

		job, err := repo.Upsert(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.Equal(t, jobName, job.Name)
		assert.Equal(t, "optics_sweep", job.TaskName)
		assert.JSONEq(t, `{"definition_id": "optics-v1"}`, string(job.Config))
		assert.True(t, job.Enabled, "enabled should default to true")
		assert.Equal(t, model.ScheduleTypeInterval, job.ScheduleType)
		require.NotNil(t, job.IntervalSeconds)
		assert.Equal(t, int64(900), *job.IntervalSeconds)
		assert.Equal(t, 0, job.RunCount)
		assert.Nil(t, job.LastRunAt)
		assert.Nil(t, job.NextRunAt)
		assert.WithinDuration(t, time.Now(), job.CreatedAt, 5*time.Second)
	})
}

func TestSchedulerJobsAdminRepo_Upsert_CronJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		jobName := fmt.Sprintf("upsert_cron_%d", time.Now().UnixNano())
		req := testutil.NewSchedulerJob(jobName).WithCron("0 2 * * *").Build()

		job, err := repo.Upsert(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, model.ScheduleTypeCron, job.ScheduleType)
		require.NotNil(t, job.CronExpression)
		assert.Equal(t, "0 2 * * *", *job.CronExpression)
		assert.Nil(t, job.IntervalSeconds)
	})
}

func TestSchedulerJobsAdminRepo_Upsert_Invalid(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		_, err := repo.Upsert(ctx, nil)
		require.Error(t, err)

		// Interval schedule without an interval
		req := testutil.NewSchedulerJob(fmt.Sprintf("upsert_invalid_%d", time.Now().UnixNano())).Build()
		req.IntervalSeconds = nil
		_, err = repo.Upsert(ctx, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interval_seconds is required")
	})
}

func TestSchedulerJobsAdminRepo_Upsert_PreservesRunState(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		jobName := fmt.Sprintf("upsert_preserve_%d", now.UnixNano())
		_, err := repo.Upsert(ctx, testutil.IntervalJobRequest(jobName, 300))
		require.NoError(t, err)

		// Simulate dispatch history written by the tick loop
		lastRun := now.Add(-1 * time.Hour).Truncate(time.Millisecond)
		nextRun := now.Add(5 * time.Minute).Truncate(time.Millisecond)
		_, err = db.ExecContext(ctx, `
			UPDATE scheduler_jobs SET run_count = 4, last_run_at = $2, next_run_at = $3 WHERE name = $1
		`, jobName, lastRun, nextRun)
		require.NoError(t, err)

		// Replacing the schedule keeps the run bookkeeping
		job, err := repo.Upsert(ctx, testutil.IntervalJobRequest(jobName, 600))
		require.NoError(t, err)
		assert.Equal(t, 4, job.RunCount)
		require.NotNil(t, job.LastRunAt)
		assert.WithinDuration(t, lastRun, *job.LastRunAt, time.Second)
		require.NotNil(t, job.NextRunAt)
		assert.WithinDuration(t, nextRun, *job.NextRunAt, time.Second)

		// An explicit NextRunAt in the request overrides the stored one
		rearmed := now.Add(30 * time.Second)
		job, err = repo.Upsert(ctx, testutil.NewSchedulerJob(jobName).
			WithInterval(600).
			WithNextRunAt(rearmed).
			Build())
		require.NoError(t, err)
		assert.Equal(t, 4, job.RunCount)
		require.NotNil(t, job.NextRunAt)
		assert.WithinDuration(t, rearmed, *job.NextRunAt, time.Second)
	})
}

func TestSchedulerJobsAdminRepo_Get(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		jobName := fmt.Sprintf("admin_get_%d", time.Now().UnixNano())
		_, err := repo.Upsert(ctx, testutil.IntervalJobRequest(jobName, 300))
		require.NoError(t, err)

		job, err := repo.Get(ctx, jobName)
		require.NoError(t, err)
		assert.Equal(t, jobName, job.Name)

		_, err = repo.Get(ctx, jobName+"_missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSchedulerJobNotFound)
	})
}

func TestSchedulerJobsAdminRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		prefix := fmt.Sprintf("admin_list_%d_", time.Now().UnixNano())
		_, err := repo.Upsert(ctx, testutil.NewSchedulerJob(prefix+"alpha").WithTaskName("sweep_a").Build())
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, testutil.NewSchedulerJob(prefix+"beta").WithTaskName("sweep_a").WithEnabled(false).Build())
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, testutil.NewSchedulerJob(prefix+"gamma").WithTaskName("sweep_b").Build())
		require.NoError(t, err)

		// Q scopes every query to this test's rows
		q := prefix

		jobs, err := repo.List(ctx, model.SchedulerJobsListOptions{Q: &q})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)

		taskName := "sweep_a"
		jobs, err = repo.List(ctx, model.SchedulerJobsListOptions{Q: &q, TaskName: &taskName})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)

		enabled := true
		jobs, err = repo.List(ctx, model.SchedulerJobsListOptions{Q: &q, Enabled: &enabled})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		for _, job := range jobs {
			assert.True(t, job.Enabled)
		}

		jobs, err = repo.List(ctx, model.SchedulerJobsListOptions{Q: &q, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})
}

func TestSchedulerJobsAdminRepo_SetEnabled(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		jobName := fmt.Sprintf("set_enabled_%d", time.Now().UnixNano())
		_, err := repo.Upsert(ctx, testutil.IntervalJobRequest(jobName, 300))
		require.NoError(t, err)

		found, err := repo.SetEnabled(ctx, jobName, false)
		require.NoError(t, err)
		assert.True(t, found)

		job, err := repo.Get(ctx, jobName)
		require.NoError(t, err)
		assert.False(t, job.Enabled)

		found, err = repo.SetEnabled(ctx, jobName+"_missing", false)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestSchedulerJobsAdminRepo_SetNextRun(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		jobName := fmt.Sprintf("set_next_run_%d", now.UnixNano())
		_, err := repo.Upsert(ctx, testutil.IntervalJobRequest(jobName, 300))
		require.NoError(t, err)

		next := now.Add(10 * time.Minute)
		found, err := repo.SetNextRun(ctx, jobName, &next)
		require.NoError(t, err)
		assert.True(t, found)

		job, err := repo.Get(ctx, jobName)
		require.NoError(t, err)
		require.NotNil(t, job.NextRunAt)
		assert.WithinDuration(t, next, *job.NextRunAt, time.Second)

		// Clearing re-arms the job as immediately due
		found, err = repo.SetNextRun(ctx, jobName, nil)
		require.NoError(t, err)
		assert.True(t, found)

		job, err = repo.Get(ctx, jobName)
		require.NoError(t, err)
		assert.Nil(t, job.NextRunAt)
	})
}

func TestSchedulerJobsAdminRepo_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSchedulerJobsAdminRepo(db)
		ctx := context.Background()

		jobName := fmt.Sprintf("admin_delete_%d", time.Now().UnixNano())
		_, err := repo.Upsert(ctx, testutil.IntervalJobRequest(jobName, 300))
		require.NoError(t, err)

		deleted, err := repo.Delete(ctx, jobName)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = repo.Get(ctx, jobName)
		assert.ErrorIs(t, err, ErrSchedulerJobNotFound)

		deleted, err = repo.Delete(ctx, jobName)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestNormalizePagination(t *testing.T) {
	limit, offset := normalizePagination(0, -5)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	limit, offset = normalizePagination(5000, 10)
	assert.Equal(t, 1000, limit)
	assert.Equal(t, 10, offset)

	limit, offset = normalizePagination(25, 100)
	assert.Equal(t, 25, limit)
	assert.Equal(t, 100, offset)
}
