package assistant

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the authoring bridge.
type Metrics struct {
	messagesTotal  *prometheus.CounterVec
	messageLatency prometheus.Histogram
	rollbacksTotal prometheus.Counter

	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram

	proposalsTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_messages_total",
				Help: "Total number of message sends by status",
			},
			[]string{"status"},
		),

		messageLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_message_duration_seconds",
				Help:    "Message round-trip latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		rollbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_message_rollbacks_total",
				Help: "Total number of optimistic messages rolled back after send failures",
			},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistant_sessions_active",
				Help: "Number of currently active chat sessions",
			},
		),

		sessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_sessions_total",
				Help: "Total number of chat sessions created",
			},
		),

		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_session_duration_seconds",
				Help:    "Session lifetime in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
		),

		proposalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_proposals_total",
				Help: "Total number of pipeline proposals extracted from replies",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.messagesTotal,
		m.messageLatency,
		m.rollbacksTotal,
		m.sessionsActive,
		m.sessionsTotal,
		m.sessionDuration,
		m.proposalsTotal,
	)

	return m
}

// RecordMessage records a completed or failed message send.
func (m *Metrics) RecordMessage(status string, duration time.Duration) {
	m.messagesTotal.WithLabelValues(status).Inc()
	m.messageLatency.Observe(duration.Seconds())
}

// RecordRollback records an optimistic message rollback.
func (m *Metrics) RecordRollback() {
	m.rollbacksTotal.Inc()
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated() {
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// RecordSessionClosed records a deleted session and its lifetime.
func (m *Metrics) RecordSessionClosed(duration time.Duration) {
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(duration.Seconds())
}

// RecordProposal records one extracted pipeline proposal.
func (m *Metrics) RecordProposal() {
	m.proposalsTotal.Inc()
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
