package engine

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/smilemakc/dagrun/pkg/executor"
	"github.com/smilemakc/dagrun/pkg/httpclient"
	"github.com/smilemakc/dagrun/pkg/metrics"
)

// DefaultLevelWorkers bounds each scheduler level's pool when not
// overridden.
const DefaultLevelWorkers = 8

// Options configures a Runner. Zero values are filled with sensible
// collaborators: a real HTTP client, the builtin executor set, the
// system clock, a no-op notifier and tracer, and a disabled logger.
type Options struct {
	Logger     *zerolog.Logger
	Notifier   Notifier
	Clock      Clock
	HTTP       httpclient.Sender
	Executors  *executor.Manager
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
	MaxWorkers int
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		nop := zerolog.Nop()
		out.Logger = &nop
	}
	if out.Notifier == nil {
		out.Notifier = NoopNotifier{}
	}
	if out.Clock == nil {
		out.Clock = SystemClock()
	}
	if out.HTTP == nil {
		out.HTTP = httpclient.New()
	}
	if out.Executors == nil {
		out.Executors = executor.NewDefaultManager(out.HTTP)
	}
	if out.Tracer == nil {
		out.Tracer = noop.NewTracerProvider().Tracer("dagrun")
	}
	if out.MaxWorkers <= 0 {
		out.MaxWorkers = DefaultLevelWorkers
	}
	return &out
}
