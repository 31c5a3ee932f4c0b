// Package monitoring exposes Prometheus metrics for lifecycle operations,
// external tool invocations, and the control API.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Lifecycle operation metrics
	OpsTotal     *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	Rollbacks    prometheus.Counter
	RegistrySize prometheus.Gauge

	// External tool metrics
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	// Proxy reload metrics
	ProxyReloads *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a metrics collector registered on reg. Tests pass a fresh
// prometheus.NewRegistry to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgeboard_lifecycle_ops_total",
				Help: "Total lifecycle operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgeboard_lifecycle_op_duration_seconds",
				Help:    "Lifecycle operation duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		Rollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "forgeboard_rollbacks_total",
				Help: "Total compensating rollbacks after partial failures",
			},
		),
		RegistrySize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "forgeboard_registry_apps",
				Help: "Number of apps currently registered",
			},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgeboard_tool_calls_total",
				Help: "External tool invocations by tool, verb, and outcome",
			},
			[]string{"tool", "verb", "outcome"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgeboard_tool_call_duration_seconds",
				Help:    "External tool invocation duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool", "verb"},
		),
		ProxyReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgeboard_proxy_reloads_total",
				Help: "Proxy reload attempts by outcome",
			},
			[]string{"outcome"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgeboard_http_requests_total",
				Help: "Total control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgeboard_http_request_duration_seconds",
				Help:    "Control API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// RecordOp records one lifecycle operation.
func (m *Metrics) RecordOp(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OpsTotal.WithLabelValues(op, outcome).Inc()
	m.OpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRollback counts a compensating rollback.
func (m *Metrics) RecordRollback() {
	if m == nil {
		return
	}
	m.Rollbacks.Inc()
}

// RecordToolCall records one external tool invocation.
func (m *Metrics) RecordToolCall(tool, verb, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, verb, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool, verb).Observe(duration.Seconds())
}

// RecordProxyReload records one reload attempt.
func (m *Metrics) RecordProxyReload(outcome string) {
	if m == nil {
		return
	}
	m.ProxyReloads.WithLabelValues(outcome).Inc()
}

// SetRegistrySize updates the registered app gauge.
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistrySize.Set(float64(n))
}

// RecordHTTPRequest records one control API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
