// Package service provides business logic services for the netops job system.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/schedule"
)

// SchedulerService implements the TickScheduler interface.
// It dispatches due scheduler jobs to the task broker, records one execution
// row per dispatch, and reaps executions that never reached a terminal state.
// Safe under concurrent replicas: FindDue skips rows locked elsewhere and
// each dispatch runs under a per-job advisory lock with a due re-check.
type SchedulerService struct {
	repo       core.SchedulerJobsRepository
	executions core.ExecutionsRepository
	broker     core.TaskBroker
	cfg        core.SchedulerConfig
	clock      data.Clock
	logger     *slog.Logger
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Repo       core.SchedulerJobsRepository
	Executions core.ExecutionsRepository
	Broker     core.TaskBroker
	Config     *core.SchedulerConfig
	Clock      data.Clock
	Logger     *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.Clock == nil {
		opts.Clock = data.SystemClock{}
	}
	if opts.Config == nil {
		defaultCfg := core.DefaultSchedulerConfig()
		opts.Config = &defaultCfg
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SchedulerService{
		repo:       opts.Repo,
		executions: opts.Executions,
		broker:     opts.Broker,
		cfg:        *opts.Config,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// dispatchOutcome classifies what one dispatch attempt did.
type dispatchOutcome int

const (
	// dispatchSkipped means the lock was held elsewhere or the job stopped
	// being due between FindDue and the locked re-check.
	dispatchSkipped dispatchOutcome = iota
	// dispatchEnqueued means the broker accepted the task.
	dispatchEnqueued
	// dispatchFailed means the broker rejected the task or the dispatch
	// machinery itself failed.
	dispatchFailed
)

// Tick dispatches every due job once and reaps stale executions.
//
// Algorithm:
// 1. Find due jobs using the batch size limit.
// 2. Per job, under a per-job advisory lock: re-check the due predicate,
//    enqueue the broker task, advance the schedule, record an execution row.
// 3. Flip queued/running executions older than the stale threshold to
//    timeout and report them.
//
// An enqueue failure is recorded as a failed execution row without advancing
// next_run_at, so the job is retried on the next tick. Failures are isolated
// per job; one bad job never blocks the rest of the batch. A zero now falls
// back to the service clock.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (*model.TickResult, error) {
	if now.IsZero() {
		now = s.clock.Now()
	}

	result := &model.TickResult{
		Enqueued:  []string{},
		Failed:    []string{},
		TimedOut:  []model.ReapedExecution{},
		Timestamp: now,
	}

	due, err := s.repo.FindDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("find due jobs: %w", err)
	}

	for _, job := range due {
		outcome, dispatchErr := s.dispatchJob(ctx, job.Name, now)
		if dispatchErr != nil {
			s.logger.WarnContext(ctx, "job dispatch failed",
				"job_name", job.Name,
				"error", dispatchErr)
		}
		switch outcome {
		case dispatchEnqueued:
			result.Enqueued = append(result.Enqueued, job.Name)
		case dispatchFailed:
			result.Failed = append(result.Failed, job.Name)
		case dispatchSkipped:
			// Another replica handled the job; nothing to record.
		}
	}

	reaped, err := s.executions.ReapStale(ctx, core.ReapStaleParams{
		Now:        now,
		StaleAfter: s.cfg.StaleAfter,
	})
	if err != nil {
		return result, fmt.Errorf("reap stale executions: %w", err)
	}
	if len(reaped) > 0 {
		result.TimedOut = reaped
		s.logger.WarnContext(ctx, "reaped stale executions", "count", len(reaped))
	}

	return result, nil
}

// dispatchJob enqueues one due job under its advisory lock.
//
// The broker enqueue and the schedule advance happen inside the lock so two
// replicas can never dispatch the same due instant twice. A broker rejection
// is settled inside the lock too (failed execution row, schedule untouched)
// and reported as dispatchFailed with a nil error.
func (s *SchedulerService) dispatchJob(ctx context.Context, name string, now time.Time) (dispatchOutcome, error) {
	outcome := dispatchSkipped

	locked, err := s.repo.TryWithJobLock(ctx, name, func(ctx context.Context, tx *sql.Tx) error {
		job, getErr := s.repo.GetTx(ctx, tx, name)
		if getErr != nil {
			return fmt.Errorf("reload job: %w", getErr)
		}
		// The job may have been deleted, disabled, or dispatched by another
		// replica between FindDue and lock acquisition.
		if job == nil || !job.Due(now) {
			return nil
		}

		taskID, enqueueErr := s.broker.Enqueue(ctx, core.EnqueueParams{
			Name:    job.TaskName,
			Payload: job.Config,
		})
		if enqueueErr != nil {
			outcome = dispatchFailed
			s.recordEnqueueFailure(ctx, job, now, enqueueErr)
			return nil
		}

		next := schedule.NextRun(job, now)
		if _, markErr := s.repo.MarkRunTx(ctx, tx, core.MarkRunParams{
			Name:      job.Name,
			RanAt:     now,
			NextRunAt: next,
		}); markErr != nil {
			return fmt.Errorf("mark run: %w", markErr)
		}

		outcome = dispatchEnqueued
		s.recordDispatch(ctx, job, taskID, now)
		return nil
	})
	if err != nil {
		return dispatchFailed, fmt.Errorf("dispatch job %s: %w", name, err)
	}
	if !locked {
		return dispatchSkipped, nil
	}
	return outcome, nil
}

// recordEnqueueFailure closes out a dispatch the broker rejected. The row
// carries a synthetic task id since the broker never assigned one, and
// next_run_at stays put so the next tick retries the job.
func (s *SchedulerService) recordEnqueueFailure(
	ctx context.Context,
	job *model.SchedulerJob,
	now time.Time,
	enqueueErr error,
) {
	msg := enqueueErr.Error()
	_, err := s.executions.Create(ctx, &model.CreateExecutionRequest{
		JobName:      job.Name,
		TaskName:     job.TaskName,
		TaskID:       uuid.NewString(),
		Status:       model.ExecutionStatusFailed,
		StartedAt:    now,
		ErrorMessage: &msg,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record rejected dispatch",
			"job_name", job.Name,
			"error", err)
	}
}

// recordDispatch writes the queued execution row for a successful enqueue.
// The task is already on the queue at this point, so an insert failure is
// logged rather than surfaced; unwinding MarkRun here would double-dispatch
// on the next tick.
func (s *SchedulerService) recordDispatch(
	ctx context.Context,
	job *model.SchedulerJob,
	taskID string,
	now time.Time,
) {
	resultPayload, marshalErr := json.Marshal(map[string]json.RawMessage{"config": job.Config})
	if marshalErr != nil {
		s.logger.WarnContext(ctx, "failed to encode dispatch result",
			"job_name", job.Name,
			"error", marshalErr)
		resultPayload = nil
	}

	_, err := s.executions.Create(ctx, &model.CreateExecutionRequest{
		JobName:   job.Name,
		TaskName:  job.TaskName,
		TaskID:    taskID,
		Status:    model.ExecutionStatusQueued,
		StartedAt: now,
		Result:    resultPayload,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record dispatch",
			"job_name", job.Name,
			"task_id", taskID,
			"error", err)
	}
}
