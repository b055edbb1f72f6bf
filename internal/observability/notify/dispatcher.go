package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/target/netops-go/internal/domain/model"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink Sink
}

// DispatcherOptions configures the notification dispatcher.
type DispatcherOptions struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
}

// Dispatcher fans notification events out to every registered sink,
// concurrently. It implements the engine's notifier port: per-sink failures
// are logged, and an error comes back only when no sink accepted the event.
type Dispatcher struct {
	logger *slog.Logger
	sinks  []SinkRegistration
}

// NewDispatcher constructs a dispatcher. Nil sinks are skipped so callers can
// pass conditionally-built registrations straight through.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Dispatcher{
		logger: logger,
		sinks:  sinks,
	}
}

// Enabled reports whether the dispatcher has any active sinks.
func (d *Dispatcher) Enabled() bool {
	return len(d.sinks) > 0
}

// Dispatch flattens the domain event and sends it to all sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.NotificationEvent) error {
	if event == nil || len(d.sinks) == 0 {
		return nil
	}

	payload := convertEvent(event)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	for _, entry := range d.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.Send(ctx, payload); err != nil {
				d.logger.ErrorContext(ctx, "notification delivery error",
					"sink", entry.Name,
					"job_name", payload.JobName,
					"action_id", payload.ActionID,
					"error", err,
				)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", entry.Name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(failures) == len(d.sinks) {
		return errors.Join(failures...)
	}
	return nil
}

func convertEvent(event *model.NotificationEvent) Event {
	severity := SeverityInfo
	failed := event.Failure()
	if failed {
		severity = SeverityCritical
	}

	return Event{
		Title:       event.Title,
		Body:        event.Body,
		Tag:         event.Tag,
		Severity:    severity,
		JobName:     event.JobName,
		ExecutionID: event.ExecutionID,
		ActionID:    event.ActionID,
		Status:      event.Status,
		Failed:      failed,
		Targets:     event.Targets,
		OccurredAt:  event.OccurredAt,
	}
}
