// Package scheduler provides the tick-loop runner that drives the
// scheduler service at a fixed cadence.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
	obserrors "github.com/target/netops-go/internal/observability/errors"
	"github.com/target/netops-go/internal/observability/metrics"
	"github.com/target/netops-go/internal/observability/statsd"
	"github.com/target/netops-go/internal/service"
)

// Runner owns the scheduler ticker: it calls Tick at the configured
// interval, emits tick metrics, and logs per-tick summaries.
type Runner struct {
	scheduler core.TickScheduler
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Broker   core.TaskBroker
	Config   *core.SchedulerConfig
	Interval time.Duration // tick cadence; defaults to Config.TickInterval
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Jobs, Executions, and Scheduler override the pieces wired from DB;
	// tests inject fakes through them.
	Jobs       core.SchedulerJobsRepository
	Executions core.ExecutionsRepository
	Scheduler  core.TickScheduler
}

// NewRunner wires the scheduler service and constructs a tick runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = wireSchedulerService(opts)
	}

	return &Runner{
		scheduler: scheduler,
		interval:  opts.Interval,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Scheduler == nil {
		if opts.DB == nil && (opts.Jobs == nil || opts.Executions == nil) {
			return errors.New("either DB or Jobs and Executions must be provided")
		}
		if opts.Broker == nil {
			return errors.New("broker must be provided")
		}
	}
	if opts.Interval <= 0 {
		if opts.Config != nil && opts.Config.TickInterval > 0 {
			opts.Interval = opts.Config.TickInterval
		} else {
			opts.Interval = core.DefaultSchedulerConfig().TickInterval
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireSchedulerService builds the tick service with repo defaults from DB.
func wireSchedulerService(opts RunnerOptions) *service.SchedulerService {
	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewSchedulerJobsRepo(opts.DB)
	}
	executions := opts.Executions
	if executions == nil {
		executions = data.NewExecutionsRepo(opts.DB)
	}
	return service.NewSchedulerService(service.SchedulerServiceOptions{
		Repo:       jobs,
		Executions: executions,
		Broker:     opts.Broker,
		Config:     opts.Config,
		Logger:     opts.Logger,
	})
}

// Run starts the tick loop and blocks until the context is cancelled.
// Tick errors are logged and counted; the loop keeps running.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case now := <-ticker.C:
			r.tickOnce(ctx, now)
		}
	}
}

func (r *Runner) tickOnce(ctx context.Context, now time.Time) {
	start := time.Now()
	result, err := r.scheduler.Tick(ctx, now)
	elapsed := time.Since(start)

	r.emitTickMetrics(result, elapsed, err)

	if err != nil {
		// Tick can fail after partial progress; the result still counts.
		r.logger.ErrorContext(ctx, "scheduler tick error", "error", err)
		return
	}
	if len(result.Enqueued) > 0 || len(result.Failed) > 0 || len(result.TimedOut) > 0 {
		r.logger.InfoContext(ctx, "scheduler tick",
			"enqueued", len(result.Enqueued),
			"failed", len(result.Failed),
			"timed_out", len(result.TimedOut),
			"duration", elapsed)
	}
}

func (r *Runner) emitTickMetrics(result *model.TickResult, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	tick := metrics.TickMetric{Duration: elapsed}
	if result != nil {
		tick.Enqueued = len(result.Enqueued)
		tick.Failed = len(result.Failed)
		tick.Reaped = len(result.TimedOut)
	}
	metrics.EmitTick(r.metrics, tick)

	if err != nil {
		tags := map[string]string{}
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
		r.metrics.Count("scheduler.tick_errors", 1, tags)
		return
	}
	r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
}
