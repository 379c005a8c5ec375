package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "familiar"

var latencyBucketsSeconds = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300,
}

// Metrics holds the sidecar's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	queries           *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	submitAttempts    *prometheus.CounterVec
	connects          *prometheus.CounterVec
	permissionResults *prometheus.CounterVec
	logins            *prometheus.CounterVec
	streamEvents      *prometheus.CounterVec
}

// New registers all collectors. pending, when non-nil, backs the pending approvals gauge.
func New(pending func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Prompts accepted by /query, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time from prompt submission to stream end.",
			Buckets:   latencyBucketsSeconds,
		}),
		submitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_attempts_total",
			Help:      "Prompt submission attempts against the agent runtime.",
		}, []string{"result"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_connects_total",
			Help:      "Agent runtime connection attempts.",
		}, []string{"result"}),
		permissionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Tool permission decisions, by decision and source.",
		}, []string{"decision", "source"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claude_logins_total",
			Help:      "Completed Claude login flows.",
		}, []string{"result"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Events delivered to query streams, by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.queries,
		m.queryDuration,
		m.submitAttempts,
		m.connects,
		m.permissionResults,
		m.logins,
		m.streamEvents,
		prometheus.NewGoCollector(),
	)
	if pending != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_approvals",
			Help:      "Permission requests waiting for a human decision.",
		}, func() float64 { return float64(pending()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recording methods accept a nil receiver so components can run without metrics.

func (m *Metrics) RecordQuery(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordSubmitAttempt(err error) {
	if m == nil {
		return
	}
	m.submitAttempts.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) RecordConnect(err error) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) RecordPermission(decision, source string) {
	if m == nil {
		return
	}
	m.permissionResults.WithLabelValues(decision, source).Inc()
}

func (m *Metrics) RecordLogin(active bool) {
	if m == nil {
		return
	}
	result := "inactive"
	if active {
		result = "active"
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
