// Package notify defines the outbound notification payload and the sink
// contract that delivery integrations implement.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityInfo     = "info"
)

// Event captures the canonical data emitted for one action outcome.
// Title and Body arrive preformatted by the engine; sinks only lay them out.
type Event struct {
	Title       string
	Body        string
	Tag         string
	Severity    string
	JobName     string
	ExecutionID string
	ActionID    string
	Status      string
	Failed      bool
	Targets     []string
	Metadata    map[string]string
	OccurredAt  time.Time
}

// Sink describes a destination capable of consuming outcome notifications.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, event Event) error

// Send implements the Sink interface.
func (f SinkFunc) Send(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}
