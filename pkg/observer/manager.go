package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/smilemakc/dagrun/pkg/engine"
)

// Manager fans events out to registered observers. It implements
// engine.Notifier: each observer runs in its own goroutine, panics are
// recovered, and errors are logged without propagating.
type Manager struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for observer failures.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds an observer. Names must be unique.
func (m *Manager) Register(obs Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.observers {
		if existing.Name() == obs.Name() {
			return fmt.Errorf("observer %q already registered", obs.Name())
		}
	}
	m.observers = append(m.observers, obs)
	return nil
}

// Unregister removes an observer by name.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, obs := range m.observers {
		if obs.Name() == name {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("observer %q not found", name)
}

// Count returns the number of registered observers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}

// Notify dispatches the event to every observer. Notifications are
// decoupled from the caller's cancellation so observers can finish
// their work after a run is cancelled.
func (m *Manager) Notify(ctx context.Context, event engine.ExecutionEvent) {
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	observerCtx := context.WithoutCancel(ctx)
	for _, obs := range observers {
		go m.notifyObserver(observerCtx, obs, event)
	}
}

func (m *Manager) notifyObserver(ctx context.Context, obs Observer, event engine.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("observer", obs.Name()).
				Str("event_type", event.Type).
				Any("panic", r).
				Msg("observer panic recovered")
		}
	}()

	if filtered, ok := obs.(Filtered); ok {
		if filter := filtered.Filter(); filter != nil && !filter.ShouldNotify(event) {
			return
		}
	}

	if err := obs.OnEvent(ctx, event); err != nil {
		m.logger.Error().
			Err(err).
			Str("observer", obs.Name()).
			Str("event_type", event.Type).
			Msg("observer notification failed")
	}
}
