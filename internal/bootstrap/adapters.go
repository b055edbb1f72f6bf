package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/adapters/reaper"
	schedrunner "github.com/target/netops-go/internal/adapters/scheduler"
	"github.com/target/netops-go/internal/adapters/worker"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/observability/statsd"
)

// SchedulerConfig contains configuration for the scheduler tick loop.
type SchedulerConfig struct {
	DB           *sql.DB
	Broker       core.TaskBroker
	Logger       *slog.Logger
	TickInterval time.Duration
	BatchSize    int
	StaleAfter   time.Duration
	Metrics      statsd.Sink
}

// RunScheduler starts the scheduler service.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	schedulerCfg := core.DefaultSchedulerConfig()
	if cfg.TickInterval > 0 {
		schedulerCfg.TickInterval = cfg.TickInterval
	}
	if cfg.BatchSize > 0 {
		schedulerCfg.BatchSize = cfg.BatchSize
	}
	if cfg.StaleAfter > 0 {
		schedulerCfg.StaleAfter = cfg.StaleAfter
	}

	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		DB:      cfg.DB,
		Broker:  cfg.Broker,
		Config:  &schedulerCfg,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}

	return runner.Run(ctx)
}

// WorkerConfig contains configuration for the task worker pool.
type WorkerConfig struct {
	DB          *sql.DB
	Broker      core.TaskBroker
	Engine      core.JobRunner
	Actions     core.ActionRunner
	Discovery   core.DiscoveryRunner
	Cache       *core.DefinitionCacheService
	Logger      *slog.Logger
	Queue       string
	Block       time.Duration
	Concurrency int
	Metrics     statsd.Sink
}

// RunWorker starts the task worker pool.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := worker.NewRunner(worker.RunnerOptions{
		DB:          cfg.DB,
		Logger:      cfg.Logger,
		Queue:       cfg.Queue,
		Block:       cfg.Block,
		Concurrency: cfg.Concurrency,
		Broker:      cfg.Broker,
		Engine:      cfg.Engine,
		Actions:     cfg.Actions,
		Discovery:   cfg.Discovery,
		Cache:       cfg.Cache,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create worker runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Broker  core.TaskBroker
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Broker:  cfg.Broker,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
