package engine

import "context"

// Notifier receives execution lifecycle events. Implementations must
// not block: the scheduler calls Notify inline.
type Notifier interface {
	Notify(ctx context.Context, event ExecutionEvent)
}

// NoopNotifier is a Notifier that does nothing. Used when no observer
// wiring is configured.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(ctx context.Context, event ExecutionEvent) {}
