// Package schedule computes dispatch instants for scheduler jobs.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/target/netops-go/internal/domain/model"
)

// cronParser accepts the standard five-field format plus @-descriptors
// such as @hourly and @every.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun computes the instant a job should dispatch after now. Interval
// schedules advance by interval_seconds; cron schedules pick the next
// matching instant strictly after now. Malformed cron expressions and
// unknown schedule types yield nil, which parks the job until it is
// re-armed with a corrected schedule.
func NextRun(job *model.SchedulerJob, now time.Time) *time.Time {
	switch job.ScheduleType {
	case model.ScheduleTypeInterval:
		if job.IntervalSeconds == nil || *job.IntervalSeconds <= 0 {
			return nil
		}
		next := now.Add(time.Duration(*job.IntervalSeconds) * time.Second)
		return &next
	case model.ScheduleTypeCron:
		if job.CronExpression == nil {
			return nil
		}
		return CronNext(*job.CronExpression, now)
	default:
		return nil
	}
}

// CronNext returns the first instant matching the expression strictly after
// the given time, or nil when the expression is malformed.
func CronNext(expr string, after time.Time) *time.Time {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil
	}
	next := sched.Next(after)
	if next.IsZero() {
		return nil
	}
	return &next
}

// CronValid reports whether the expression parses. Stored expressions are
// not required to parse; the scheduler parks jobs with malformed ones.
// Operator tooling uses this to warn before arming such a job.
func CronValid(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}
