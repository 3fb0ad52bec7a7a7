// Package observer fans execution events out to registered observers
// without blocking the scheduler.
package observer

import (
	"context"

	"github.com/smilemakc/dagrun/pkg/engine"
)

// Observer receives execution events.
type Observer interface {
	// Name returns a unique identifier for the observer.
	Name() string

	// OnEvent is called for every execution event.
	OnEvent(ctx context.Context, event engine.ExecutionEvent) error
}

// EventFilter decides which events reach an observer.
type EventFilter interface {
	ShouldNotify(event engine.ExecutionEvent) bool
}

// Filtered is implemented by observers that carry their own filter.
type Filtered interface {
	Filter() EventFilter
}

// TypeFilter keeps only the listed event types.
type TypeFilter map[string]bool

func (f TypeFilter) ShouldNotify(event engine.ExecutionEvent) bool {
	return f[event.Type]
}
