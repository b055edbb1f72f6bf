// Package reaper provides the adapter for running the retention reaper.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/observability/statsd"
	"github.com/target/netops-go/internal/service"
)

// Runner wires the retention reaper service and runs its cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner. Repo overrides
// the repository wired from DB; tests inject fakes through it.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	// Broker enables fan-out group pruning. Optional: without it the reaper
	// only enforces database retention.
	Broker core.TaskBroker

	Repo    core.ReaperRepository
	Metrics statsd.Sink
}

// NewRunner builds the reaper service behind a runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	repo := opts.Repo
	if repo == nil {
		if opts.DB == nil {
			return nil, errors.New("either DB or Repo must be provided")
		}
		repo = data.NewReaperRepo(opts.DB)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Broker:  opts.Broker,
		Config:  opts.Config,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runner{reaper: reaper, logger: logger}, nil
}

// Run starts the cleanup loop and blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
