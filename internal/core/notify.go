package core

import (
	"context"

	"github.com/target/netops-go/internal/domain/model"
)

// Notifier dispatches notification events to configured sinks.
type Notifier interface {
	// Dispatch sends one event to every configured sink.
	// Returns error only if dispatch fails for all sinks; individual
	// failures are logged by the implementation.
	Dispatch(ctx context.Context, event *model.NotificationEvent) error
}
