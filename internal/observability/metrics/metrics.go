// Package metrics centralizes metric names and tagging so every runner
// emits the same shapes.
package metrics

import (
	"time"

	obserrors "github.com/target/netops-go/internal/observability/errors"
	"github.com/target/netops-go/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// TickMetric captures one scheduler tick for metric emission.
type TickMetric struct {
	Enqueued int
	Failed   int
	Reaped   int
	Duration time.Duration
}

// EmitTick emits per-tick scheduler metrics.
func EmitTick(sink statsd.Sink, in TickMetric) {
	if sink == nil {
		return
	}

	sink.Count("scheduler.tick", 1, nil)
	sink.Count("scheduler.jobs_enqueued", int64(in.Enqueued), nil)
	if in.Failed > 0 {
		sink.Count("scheduler.jobs_failed", int64(in.Failed), nil)
	}
	if in.Reaped > 0 {
		sink.Count("scheduler.executions_reaped", int64(in.Reaped), nil)
	}
	if in.Duration > 0 {
		sink.Timing("scheduler.tick_duration", in.Duration, nil)
	}
}

// TaskMetric captures one worker task completion for metric emission.
type TaskMetric struct {
	TaskName string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitTask emits standardised worker task lifecycle metrics.
func EmitTask(sink statsd.Sink, in TaskMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"task":   in.TaskName,
		"result": in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("worker.task", 1, tags)

	if in.Duration > 0 {
		sink.Timing("worker.task_duration", in.Duration, CloneTags(tags))
	}
}

// EmitDiscoveryStage emits the duration of one discovery pipeline stage.
func EmitDiscoveryStage(sink statsd.Sink, stage string, duration time.Duration) {
	if sink == nil {
		return
	}
	sink.Timing("discovery.stage_duration", duration, map[string]string{"stage": stage})
}

// EmitDiscoverySynced emits the count of devices reconciled to inventory.
func EmitDiscoverySynced(sink statsd.Sink, synced int) {
	if sink == nil || synced == 0 {
		return
	}
	sink.Count("discovery.devices_synced", int64(synced), nil)
}

// ReaperStepMetric captures one retention cleanup step for metric emission.
type ReaperStepMetric struct {
	Step     string
	Deleted  int64
	Duration time.Duration
	Err      error
}

// EmitReaperStep emits per-step retention cleanup metrics.
func EmitReaperStep(sink statsd.Sink, in ReaperStepMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"step":   in.Step,
		"result": ResultSuccess,
	}
	if in.Err != nil {
		tags["result"] = ResultError
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("reaper.deleted", in.Deleted, tags)
	if in.Duration > 0 {
		sink.Timing("reaper.step_duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
