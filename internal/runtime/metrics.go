package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver so instrumentation can be disabled entirely.
type Metrics struct {
	nodeDuration *prometheus.HistogramVec
	nodesTotal   *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pflow",
			Name:      "node_duration_seconds",
			Help:      "Wall-clock duration of node executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pflow",
			Name:      "nodes_total",
			Help:      "Node executions by outcome.",
		}, []string{"node_type", "status"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pflow",
			Name:      "runs_total",
			Help:      "Workflow runs by outcome.",
		}, []string{"status"}),
	}
}

// ObserveNode records one node execution outcome. status is one of
// completed, cached, failed.
func (m *Metrics) ObserveNode(nodeType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(nodeType, status).Inc()
	if status != "cached" {
		m.nodeDuration.WithLabelValues(nodeType).Observe(seconds)
	}
}

// ObserveRun records one workflow run outcome.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}
