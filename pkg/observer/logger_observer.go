package observer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/smilemakc/dagrun/pkg/engine"
)

// LoggerObserver mirrors execution events to a structured logger.
type LoggerObserver struct {
	name   string
	logger zerolog.Logger
	filter EventFilter
}

// LoggerObserverOption configures a LoggerObserver.
type LoggerObserverOption func(*LoggerObserver)

// WithFilter sets an event filter.
func WithFilter(filter EventFilter) LoggerObserverOption {
	return func(o *LoggerObserver) { o.filter = filter }
}

// NewLoggerObserver creates a logger observer.
func NewLoggerObserver(logger zerolog.Logger, opts ...LoggerObserverOption) *LoggerObserver {
	obs := &LoggerObserver{name: "logger", logger: logger}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

// Name returns the observer's name.
func (o *LoggerObserver) Name() string { return o.name }

// Filter returns the event filter, if any.
func (o *LoggerObserver) Filter() EventFilter { return o.filter }

// OnEvent logs the event.
func (o *LoggerObserver) OnEvent(_ context.Context, event engine.ExecutionEvent) error {
	logEvent := o.logger.Info()
	if event.Error != nil {
		logEvent = o.logger.Error().Err(event.Error)
	}
	if event.NodeID != "" {
		logEvent = logEvent.
			Str("node_id", event.NodeID).
			Str("node_type", string(event.NodeType))
	}
	if event.Status != "" {
		logEvent = logEvent.Str("status", string(event.Status))
	}
	if event.DurationMs > 0 {
		logEvent = logEvent.Int64("duration_ms", event.DurationMs)
	}
	logEvent.
		Str("event_type", event.Type).
		Str("run_id", event.RunID).
		Str("workflow_id", event.WorkflowID).
		Msg("workflow event")
	return nil
}
