// Package worker provides the broker-consuming task pool for the netops platform.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/observability/metrics"
	"github.com/target/netops-go/internal/observability/statsd"
)

// HandlerFunc processes a claimed task. The returned document is recorded on
// the task state (and surfaces in fan-out group shards); a non-nil error
// marks the task failed. Handlers may return both when a partial result is
// still worth keeping.
type HandlerFunc func(ctx context.Context, task *model.Task) (json.RawMessage, error)

// RunnerOptions configures the worker pool adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Task processing settings
	Queue       string        // queue to consume; empty uses the broker default
	Block       time.Duration // per-fetch blocking window; defaults to 5s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Required collaborators
	Broker core.TaskBroker
	Engine core.JobRunner

	// Actions handles fan-out shard tasks; Discovery handles standalone
	// discovery tasks. Leaving either nil disables its task name.
	Actions   core.ActionRunner
	Discovery core.DiscoveryRunner

	// The fields below override the pieces wired from DB; tests inject
	// fakes through them.
	Executions  core.ExecutionsRepository
	Definitions core.JobDefinitionsRepository
	Cache       *core.DefinitionCacheService
	Metrics     statsd.Sink
}

// Runner pulls tasks off the broker queue and executes them using
// registered handlers, one goroutine per configured worker.
type Runner struct {
	broker      core.TaskBroker
	engine      core.JobRunner
	actions     core.ActionRunner
	discovery   core.DiscoveryRunner
	executions  core.ExecutionsRepository
	definitions core.JobDefinitionsRepository
	cache       *core.DefinitionCacheService
	logger      *slog.Logger
	queue       string
	block       time.Duration
	workers     int
	handlers    map[string]HandlerFunc
	metrics     statsd.Sink
}

// NewRunner wires repositories and constructs a worker pool over the broker queue.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker must be provided")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	block := opts.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	executions := opts.Executions
	if executions == nil && opts.DB != nil {
		executions = data.NewExecutionsRepo(opts.DB)
	}
	definitions := opts.Definitions
	if definitions == nil && opts.DB != nil {
		definitions = data.NewJobDefinitionsRepo(opts.DB)
	}
	if definitions == nil {
		return nil, errors.New("either DB or Definitions must be provided")
	}

	r := &Runner{
		broker:      opts.Broker,
		engine:      opts.Engine,
		actions:     opts.Actions,
		discovery:   opts.Discovery,
		executions:  executions,
		definitions: definitions,
		cache:       opts.Cache,
		logger:      logger,
		queue:       opts.Queue,
		block:       block,
		workers:     workers,
		handlers:    make(map[string]HandlerFunc),
		metrics:     opts.Metrics,
	}
	// Register built-in handlers
	r.handlers[model.TaskNameRunJob] = r.handleRunJob
	if r.actions != nil {
		r.handlers[model.TaskNameRunActionShard] = r.handleActionShard
	} else {
		logger.WarnContext(context.Background(), "action runner not configured; action shard tasks will fail")
	}
	if r.discovery != nil {
		r.handlers[model.TaskNameRunDiscovery] = r.handleDiscovery
	}
	return r, nil
}

// Run starts worker goroutines and processes tasks until the context is
// cancelled. The first fatal fetch error stops the whole pool.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker pool", "queue", r.queue, "workers", r.workers, "block", r.block)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		task, err := r.broker.Fetch(ctx, r.queue, r.block)
		switch {
		case err == nil:
			if task != nil {
				r.processTask(ctx, task)
			}
		case errors.Is(err, model.ErrNoTasksAvailable):
			// idle queue; the blocking fetch already waited, go again
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("fetch task: %w", err)
		}
	}
	return nil
}

func (r *Runner) processTask(ctx context.Context, task *model.Task) {
	start := time.Now()
	emit := func(result string, err error) {
		metrics.EmitTask(r.metrics, metrics.TaskMetric{
			TaskName: task.Name,
			Result:   result,
			Duration: time.Since(start),
			Err:      err,
		})
	}

	if err := r.broker.SetRunning(ctx, task.ID); err != nil {
		if errors.Is(err, model.ErrTaskNotPending) {
			// cancelled or claimed elsewhere between fetch and claim
			r.logger.DebugContext(ctx, "task no longer pending", "task_id", task.ID, "task", task.Name)
			emit(metrics.ResultNoop, nil)
			return
		}
		r.logger.ErrorContext(ctx, "claim task", "task_id", task.ID, "task", task.Name, "error", err)
		emit(metrics.ResultError, err)
		return
	}

	h, ok := r.handlers[task.Name]
	if !ok {
		err := fmt.Errorf("no handler for task %s", task.Name)
		r.settle(ctx, task, nil, err)
		emit(metrics.ResultError, err)
		return
	}

	result, err := r.runHandler(ctx, h, task)
	r.settle(ctx, task, result, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "task failed", "task_id", task.ID, "task", task.Name, "error", err)
		emit(metrics.ResultError, err)
		return
	}
	emit(metrics.ResultSuccess, nil)
}

// runHandler invokes h with panic isolation so one bad task cannot take
// down the worker goroutine.
func (r *Runner) runHandler(ctx context.Context, h HandlerFunc, task *model.Task) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task handler panic: %v", rec)
			r.logger.ErrorContext(ctx, "task handler panic",
				"task_id", task.ID,
				"task", task.Name,
				"error", rec,
				"stack", string(debug.Stack()))
		}
	}()
	return h(ctx, task)
}

// settle records the terminal task state on the broker. Settling is
// best-effort: the broker state carries a TTL, so a lost write ages out
// rather than wedging the group.
func (r *Runner) settle(ctx context.Context, task *model.Task, result json.RawMessage, err error) {
	p := core.TaskResultParams{TaskID: task.ID, Status: model.TaskStatusSucceeded, Result: result}
	if err != nil {
		p.Status = model.TaskStatusFailed
		p.Error = err.Error()
	}
	if serr := r.broker.SetResult(ctx, p); serr != nil {
		r.logger.ErrorContext(ctx, "record task result", "task_id", task.ID, "error", serr)
	}
}
