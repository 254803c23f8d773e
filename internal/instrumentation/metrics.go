package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	ResultsTotal    *prometheus.CounterVec
	ProcessDuration prometheus.Histogram
	BrokerErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ResultsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gexflow_results_total",
			Help: "Engine responses by freshness state (fresh/cached/frozen/unavailable)",
		}, []string{"state"}),

		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gexflow_process_duration_seconds",
			Help:    "Time spent in a full snapshot pipeline run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),

		BrokerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gexflow_broker_errors_total",
			Help: "Upstream market-data failures by kind",
		}, []string{"kind"}),
	}
}

// RecordResult counts one engine response by freshness state.
func (m *Metrics) RecordResult(state string) {
	m.ResultsTotal.WithLabelValues(state).Inc()
}

// ObserveProcess records the duration of one pipeline run.
func (m *Metrics) ObserveProcess(seconds float64) {
	m.ProcessDuration.Observe(seconds)
}

// RecordBrokerError counts one upstream failure.
func (m *Metrics) RecordBrokerError(kind string) {
	m.BrokerErrors.WithLabelValues(kind).Inc()
}
