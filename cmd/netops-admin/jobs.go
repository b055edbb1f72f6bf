package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
)

type jobsListOptions struct {
	TaskName     string
	Match        string
	Limit        int
	Offset       int
	EnabledOnly  bool
	DisabledOnly bool
}

type jobArmOptions struct {
	Name string
	At   string
	In   time.Duration

	nextRunAt *time.Time
}

type jobDisarmOptions struct {
	Name string
}

func runJobsList(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobsListFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewSchedulerJobsAdminRepo(db)

		listOpts := model.SchedulerJobsListOptions{
			Limit:  opts.Limit,
			Offset: opts.Offset,
		}
		if opts.TaskName != "" {
			listOpts.TaskName = &opts.TaskName
		}
		if opts.Match != "" {
			listOpts.Q = &opts.Match
		}
		if opts.EnabledOnly || opts.DisabledOnly {
			enabled := opts.EnabledOnly
			listOpts.Enabled = &enabled
		}

		jobs, listErr := repo.List(ctx, listOpts)
		if listErr != nil {
			return listErr
		}
		return printSchedulerJobs(jobs)
	})
}

func runJobArm(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobArmFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewSchedulerJobsAdminRepo(db)

		updated, armErr := repo.SetEnabled(ctx, opts.Name, true)
		if armErr != nil {
			return armErr
		}
		if !updated {
			return fmt.Errorf("scheduler job %q not found", opts.Name)
		}

		nextRun := opts.resolveNextRun(time.Now())
		if nextRun == nil {
			return writef(os.Stdout, "Armed job %q\n", opts.Name)
		}

		if _, nextErr := repo.SetNextRun(ctx, opts.Name, nextRun); nextErr != nil {
			return nextErr
		}
		return writef(os.Stdout, "Armed job %q; next run %s\n", opts.Name, nextRun.UTC().Format(time.RFC3339))
	})
}

func runJobDisarm(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobDisarmFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewSchedulerJobsAdminRepo(db)

		updated, disarmErr := repo.SetEnabled(ctx, opts.Name, false)
		if disarmErr != nil {
			return disarmErr
		}
		if !updated {
			return fmt.Errorf("scheduler job %q not found", opts.Name)
		}
		return writef(os.Stdout, "Disarmed job %q\n", opts.Name)
	})
}

func printSchedulerJobs(jobs []model.SchedulerJob) error {
	if len(jobs) == 0 {
		return writeln(os.Stdout, "No scheduler jobs found.")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "NAME\tTASK\tENABLED\tSCHEDULE\tNEXT RUN\tLAST RUN\tRUNS"); err != nil {
		return fmt.Errorf("print jobs header: %w", err)
	}
	for i := range jobs {
		job := &jobs[i]
		if err := writef(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			job.Name,
			job.TaskName,
			job.Enabled,
			renderSchedule(job),
			renderTimestamp(job.NextRunAt),
			renderTimestamp(job.LastRunAt),
			renderRuns(job),
		); err != nil {
			return fmt.Errorf("print job row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush jobs table: %w", err)
	}
	return writef(os.Stdout, "\n%d job(s)\n", len(jobs))
}

func renderSchedule(job *model.SchedulerJob) string {
	switch job.ScheduleType {
	case model.ScheduleTypeInterval:
		if job.IntervalSeconds == nil {
			return "interval"
		}
		return "every " + (time.Duration(*job.IntervalSeconds) * time.Second).String()
	case model.ScheduleTypeCron:
		if job.CronExpression == nil {
			return "cron"
		}
		return "cron " + *job.CronExpression
	default:
		return string(job.ScheduleType)
	}
}

func renderTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderRuns(job *model.SchedulerJob) string {
	if job.MaxRuns != nil {
		return fmt.Sprintf("%d/%d", job.RunCount, *job.MaxRuns)
	}
	return strconv.Itoa(job.RunCount)
}

func parseJobsListFlags(args []string) (jobsListOptions, error) {
	fs := flag.NewFlagSet("jobs-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobsListOptions
	fs.StringVar(&opts.TaskName, "task", "", "Only jobs dispatching this task name")
	fs.StringVar(&opts.Match, "match", "", "Only jobs whose name contains this substring")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum number of jobs to return")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of jobs to skip")
	fs.BoolVar(&opts.EnabledOnly, "enabled-only", false, "Only enabled jobs")
	fs.BoolVar(&opts.DisabledOnly, "disabled-only", false, "Only disabled jobs")

	if err := fs.Parse(args); err != nil {
		return jobsListOptions{}, err
	}

	opts.TaskName = strings.TrimSpace(opts.TaskName)
	opts.Match = strings.TrimSpace(opts.Match)
	if opts.EnabledOnly && opts.DisabledOnly {
		return jobsListOptions{}, errors.New("specify at most one of --enabled-only or --disabled-only")
	}
	if opts.Limit <= 0 {
		return jobsListOptions{}, errors.New("--limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return jobsListOptions{}, errors.New("--offset must not be negative")
	}

	return opts, nil
}

func parseJobArmFlags(args []string) (jobArmOptions, error) {
	fs := flag.NewFlagSet("job-arm", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobArmOptions
	fs.StringVar(&opts.Name, "name", "", "Scheduler job name (required)")
	fs.StringVar(&opts.At, "at", "", "Re-arm next_run_at to this RFC3339 instant")
	fs.DurationVar(&opts.In, "in", 0, "Re-arm next_run_at to now plus this duration")

	if err := fs.Parse(args); err != nil {
		return jobArmOptions{}, err
	}

	opts.Name = strings.TrimSpace(opts.Name)
	opts.At = strings.TrimSpace(opts.At)
	if opts.Name == "" {
		return jobArmOptions{}, errors.New("--name is required")
	}
	if opts.At != "" && opts.In != 0 {
		return jobArmOptions{}, errors.New("specify at most one of --at or --in")
	}
	if opts.In < 0 {
		return jobArmOptions{}, errors.New("--in must be positive")
	}
	if opts.At != "" {
		at, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return jobArmOptions{}, fmt.Errorf("parse --at: %w", err)
		}
		opts.nextRunAt = &at
	}

	return opts, nil
}

// resolveNextRun returns the explicit re-arm instant, or nil when the arm
// should leave next_run_at untouched.
func (o *jobArmOptions) resolveNextRun(now time.Time) *time.Time {
	if o.nextRunAt != nil {
		return o.nextRunAt
	}
	if o.In > 0 {
		t := now.Add(o.In)
		return &t
	}
	return nil
}

func parseJobDisarmFlags(args []string) (jobDisarmOptions, error) {
	fs := flag.NewFlagSet("job-disarm", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobDisarmOptions
	fs.StringVar(&opts.Name, "name", "", "Scheduler job name (required)")

	if err := fs.Parse(args); err != nil {
		return jobDisarmOptions{}, err
	}

	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return jobDisarmOptions{}, errors.New("--name is required")
	}

	return opts, nil
}
