package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/core"
	obserrors "github.com/target/netops-go/internal/observability/errors"
	"github.com/target/netops-go/internal/observability/metrics"
	"github.com/target/netops-go/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: retention repository
	Broker  core.TaskBroker       // Optional: broker for fan-out group pruning
	Config  config.ReaperConfig   // Required: retention configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService enforces retention windows on operational history.
//
// Each cycle it:
// - Deletes terminal execution rows older than the configured max age.
// - Deletes optical power readings older than the configured max age.
// - Prunes broker fan-out group records past the group retention window.
type ReaperService struct {
	repo    core.ReaperRepository
	broker  core.TaskBroker
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("reaper repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &ReaperService{
		repo:    opts.Repo,
		broker:  opts.Broker,
		config:  opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the retention loop and runs until the context is cancelled.
// A sweep runs once at startup (after a small jitter) and then at the
// configured interval. Returns nil on graceful shutdown (context.Canceled),
// error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service",
		"interval", s.config.Interval,
		"executions_max_age", s.config.ExecutionsMaxAge,
		"optical_max_age", s.config.OpticalMaxAge,
		"groups_max_age", s.config.GroupsMaxAge,
	)

	// Spread instance start so replicas do not all sweep in lockstep.
	s.startupJitter(ctx)

	if err := s.runSweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runSweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
			}
		}
	}
}

// startupJitter delays startup by up to 10% of the interval.
func (s *ReaperService) startupJitter(ctx context.Context) {
	maxJitter := s.config.Interval / 10
	if maxJitter <= 0 {
		return
	}

	select {
	case <-time.After(rand.N(maxJitter)):
	case <-ctx.Done():
	}
}

// runSweep executes every retention step and aggregates failures so one
// bad step never blocks the others.
func (s *ReaperService) runSweep(ctx context.Context) error {
	start := time.Now()

	steps := []retentionStep{
		{run: s.deleteOldExecutions, metric: "delete_executions", label: "delete old executions"},
		{run: s.deleteOldOpticalReadings, metric: "delete_optical_readings", label: "delete old optical readings"},
		{run: s.pruneBrokerGroups, metric: "prune_groups", label: "prune broker groups"},
	}

	var (
		errs         []error
		totalDeleted int64
		firstErr     error
		allCanceled  = true
	)
	for _, step := range steps {
		outcome := s.runStep(ctx, step)
		totalDeleted += outcome.deleted
		if firstErr == nil {
			firstErr = outcome.metricErr
		}
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allCanceled = allCanceled && outcome.canceled
		}
	}

	s.emitSweepSummary(sweepSummary{
		Deleted:  totalDeleted,
		FirstErr: firstErr,
		Elapsed:  time.Since(start),
	})

	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if allCanceled && isCanceled(joined) {
		return context.Canceled
	}
	return fmt.Errorf("retention sweep failed: %w", joined)
}

type retentionFunc func(context.Context) (int64, error)

// retentionStep binds one retention operation to its metric tag and log label.
type retentionStep struct {
	run    retentionFunc
	metric string
	label  string
}

type stepOutcome struct {
	deleted      int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) runStep(ctx context.Context, step retentionStep) stepOutcome {
	stepStart := time.Now()
	deleted, err := step.run(ctx)

	outcome := stepOutcome{
		deleted:   deleted,
		metricErr: dropCanceled(err),
		canceled:  isCanceled(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", step.label, err)
	}

	metrics.EmitReaperStep(s.metrics, metrics.ReaperStepMetric{
		Step:     step.metric,
		Deleted:  deleted,
		Duration: time.Since(stepStart),
		Err:      outcome.metricErr,
	})

	return outcome
}

// deleteInBatches repeatedly invokes del until a pass removes nothing, so a
// large backlog never holds one long delete. The context is checked between
// passes.
func deleteInBatches(ctx context.Context, del func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := del(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// deleteOldExecutions deletes terminal execution rows older than the
// retention window.
func (s *ReaperService) deleteOldExecutions(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.config.ExecutionsMaxAge)
	total, err := deleteInBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
			Before: cutoff,
			Limit:  s.config.BatchSize,
		})
	})
	if err != nil {
		return total, err
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "deleted old executions",
			"count", total,
			"max_age", s.config.ExecutionsMaxAge,
		)
	}
	return total, nil
}

// deleteOldOpticalReadings deletes optical power samples older than the
// retention window.
func (s *ReaperService) deleteOldOpticalReadings(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.config.OpticalMaxAge)
	total, err := deleteInBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldOpticalReadings(ctx, core.DeleteOldOpticalReadingsParams{
			Before: cutoff,
			Limit:  s.config.BatchSize,
		})
	})
	if err != nil {
		return total, err
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "deleted old optical readings",
			"count", total,
			"max_age", s.config.OpticalMaxAge,
		)
	}
	return total, nil
}

// pruneBrokerGroups drops fan-out group records older than the group
// retention window. Shard state in the broker carries its own TTL, so a group
// past the window has nothing left to read. No-op when no broker is wired.
func (s *ReaperService) pruneBrokerGroups(ctx context.Context) (int64, error) {
	if s.broker == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.config.GroupsMaxAge)
	pruned, err := s.broker.PruneGroups(ctx, cutoff)
	if err != nil {
		return int64(pruned), err
	}

	if pruned > 0 {
		s.logger.InfoContext(ctx, "pruned broker groups",
			"count", pruned,
			"max_age", s.config.GroupsMaxAge,
		)
	}
	return int64(pruned), nil
}

// sweepSummary aggregates one sweep cycle for metric emission.
type sweepSummary struct {
	Deleted  int64
	FirstErr error
	Elapsed  time.Duration
}

func (s *ReaperService) emitSweepSummary(m sweepSummary) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if m.FirstErr != nil {
		result = metrics.ResultError
	} else if m.Deleted == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if m.FirstErr != nil {
		if class := obserrors.Classify(m.FirstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	if m.FirstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logSweepError(err error, label string) {
	if err == nil {
		return
	}

	if isCanceled(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func dropCanceled(err error) error {
	if isCanceled(err) {
		return nil
	}
	return err
}
