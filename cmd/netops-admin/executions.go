package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/target/netops-go/internal/adapters/redisq"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
)

type executionsListOptions struct {
	JobName    string
	Status     string
	Limit      int
	Offset     int
	WithBroker bool
}

type executionShowOptions struct {
	TaskID string
	Raw    bool
}

func runExecutionsList(cmdCtx *commandContext, args []string) error {
	opts, err := parseExecutionsListFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	db, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantDB:    true,
		WantRedis: opts.WithBroker,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeInfra(db, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("close connections failed", "error", closeErr)
		}
	}()

	listOpts := model.ExecutionsListOptions{
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if opts.JobName != "" {
		listOpts.JobName = &opts.JobName
	}
	if opts.Status != "" {
		status := model.ExecutionStatus(opts.Status)
		listOpts.Status = &status
	}

	executions, err := data.NewExecutionsRepo(db).List(ctx, listOpts)
	if err != nil {
		return err
	}

	var broker *redisq.Broker
	if opts.WithBroker {
		if redisClient == nil {
			cmdCtx.Logger.Warn("redis not configured; broker column will show unknown")
		} else {
			broker = newBroker(redisClient, &cmdCtx.Config.Broker)
		}
	}

	return printExecutions(ctx, executions, broker)
}

func runExecutionShow(cmdCtx *commandContext, args []string) error {
	opts, err := parseExecutionShowFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	db, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantDB:    true,
		WantRedis: !opts.Raw,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeInfra(db, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("close connections failed", "error", closeErr)
		}
	}()

	execution, err := data.NewExecutionsRepo(db).GetByTaskID(ctx, opts.TaskID)
	if err != nil {
		if errors.Is(err, data.ErrExecutionNotFound) {
			return fmt.Errorf("no execution with task id %q", opts.TaskID)
		}
		return err
	}

	if printErr := printExecutionDetail(execution, opts.Raw); printErr != nil {
		return printErr
	}
	if opts.Raw {
		return nil
	}

	if redisClient == nil {
		return writeln(os.Stdout, "Broker state: unavailable (redis not configured)")
	}
	return printBrokerState(ctx, newBroker(redisClient, &cmdCtx.Config.Broker), opts.TaskID)
}

func printExecutions(ctx context.Context, executions []model.Execution, broker *redisq.Broker) error {
	if len(executions) == 0 {
		return writeln(os.Stdout, "No executions found.")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	header := "STARTED\tJOB\tTASK\tSTATUS\tDURATION\tTASK ID"
	if broker != nil {
		header += "\tBROKER"
	}
	if err := writeln(tw, header); err != nil {
		return fmt.Errorf("print executions header: %w", err)
	}

	for i := range executions {
		e := &executions[i]
		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
			e.StartedAt.UTC().Format(time.RFC3339),
			e.JobName,
			e.TaskName,
			e.Status,
			renderExecutionDuration(e),
			e.TaskID,
		)
		if broker != nil {
			row += "\t" + brokerStateSummary(ctx, broker, e.TaskID)
		}
		if err := writeln(tw, row); err != nil {
			return fmt.Errorf("print execution row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush executions table: %w", err)
	}
	return writef(os.Stdout, "\n%d execution(s)\n", len(executions))
}

func printExecutionDetail(execution *model.Execution, raw bool) error {
	if raw {
		if len(execution.Result) == 0 {
			return writeln(os.Stdout, "{}")
		}
		return writef(os.Stdout, "%s\n", execution.Result)
	}

	if err := writef(os.Stdout, "Execution %s\n", execution.ID); err != nil {
		return fmt.Errorf("print execution detail: %w", err)
	}
	if err := writef(os.Stdout, "  Job:      %s (task %s)\n", execution.JobName, execution.TaskName); err != nil {
		return fmt.Errorf("print execution detail: %w", err)
	}
	if err := writef(os.Stdout, "  Status:   %s\n", execution.Status); err != nil {
		return fmt.Errorf("print execution detail: %w", err)
	}
	if err := writef(os.Stdout, "  Started:  %s\n", execution.StartedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("print execution detail: %w", err)
	}
	if err := writef(os.Stdout, "  Finished: %s\n", renderTimestamp(execution.FinishedAt)); err != nil {
		return fmt.Errorf("print execution detail: %w", err)
	}
	if execution.ErrorMessage != nil {
		if err := writef(os.Stdout, "  Error:    %s\n", *execution.ErrorMessage); err != nil {
			return fmt.Errorf("print execution detail: %w", err)
		}
	}
	if err := writef(os.Stdout, "Result:\n%s\n", indentJSON(execution.Result)); err != nil {
		return fmt.Errorf("print execution result: %w", err)
	}
	return nil
}

func printBrokerState(ctx context.Context, broker *redisq.Broker, taskID string) error {
	state, err := broker.Inspect(ctx, taskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskStateNotFound) {
			return writeln(os.Stdout, "Broker state: expired (key missing)")
		}
		return fmt.Errorf("inspect broker state: %w", err)
	}

	if err := writef(os.Stdout, "Broker state: %s (updated %s)\n",
		state.Status, state.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("print broker state: %w", err)
	}
	if state.Error != "" {
		if err := writef(os.Stdout, "  Error: %s\n", state.Error); err != nil {
			return fmt.Errorf("print broker state: %w", err)
		}
	}
	return nil
}

// brokerStateSummary resolves one task's broker-side status for the list
// column. Expired state is normal for old rows; the TTL outlives the row
// only for recent runs.
func brokerStateSummary(ctx context.Context, broker *redisq.Broker, taskID string) string {
	state, err := broker.Inspect(ctx, taskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskStateNotFound) {
			return "expired"
		}
		return "unknown"
	}
	return string(state.Status)
}

func renderExecutionDuration(e *model.Execution) string {
	if e.FinishedAt == nil {
		return "-"
	}
	return e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func parseExecutionsListFlags(args []string) (executionsListOptions, error) {
	fs := flag.NewFlagSet("executions-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts executionsListOptions
	fs.StringVar(&opts.JobName, "job", "", "Only executions of this scheduler job")
	fs.StringVar(&opts.Status, "status", "", "Only executions with this status (queued|running|success|failed|timeout)")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum number of executions to return")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of executions to skip")
	fs.BoolVar(&opts.WithBroker, "with-broker", false, "Join each row with its live broker task state")

	if err := fs.Parse(args); err != nil {
		return executionsListOptions{}, err
	}

	opts.JobName = strings.TrimSpace(opts.JobName)
	opts.Status = strings.ToLower(strings.TrimSpace(opts.Status))
	if opts.Status != "" && !model.ExecutionStatus(opts.Status).Valid() {
		return executionsListOptions{}, fmt.Errorf("invalid status %q", opts.Status)
	}
	if opts.Limit <= 0 {
		return executionsListOptions{}, errors.New("--limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return executionsListOptions{}, errors.New("--offset must not be negative")
	}

	return opts, nil
}

func parseExecutionShowFlags(args []string) (executionShowOptions, error) {
	fs := flag.NewFlagSet("execution-show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts executionShowOptions
	fs.StringVar(&opts.TaskID, "task-id", "", "Broker task id of the execution (required)")
	fs.BoolVar(&opts.Raw, "raw", false, "Print only the stored result payload as raw JSON")

	if err := fs.Parse(args); err != nil {
		return executionShowOptions{}, err
	}

	opts.TaskID = strings.TrimSpace(opts.TaskID)
	if opts.TaskID == "" {
		return executionShowOptions{}, errors.New("--task-id is required")
	}

	return opts, nil
}
