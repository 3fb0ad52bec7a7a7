// Package metrics exposes Prometheus collectors for engine activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors. Register them on a registry
// of your choice with Register.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	NodesTotal    *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	LevelTimeouts prometheus.Counter
	RetriesTotal  prometheus.Counter
}

// New creates the engine collectors under the dagrun namespace.
func New() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagrun",
			Name:      "runs_total",
			Help:      "Workflow runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dagrun",
			Name:      "run_duration_seconds",
			Help:      "Wall time of workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagrun",
			Name:      "nodes_total",
			Help:      "Node executions by type and terminal status.",
		}, []string{"type", "status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dagrun",
			Name:      "node_duration_seconds",
			Help:      "Wall time of node executions by type.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"type"}),
		LevelTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagrun",
			Name:      "level_timeouts_total",
			Help:      "Scheduler levels that hit their deadline.",
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagrun",
			Name:      "node_retries_total",
			Help:      "Node attempts beyond the first.",
		}),
	}
}

// Register adds all collectors to the registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RunsTotal, m.RunDuration, m.NodesTotal, m.NodeDuration,
		m.LevelTimeouts, m.RetriesTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
