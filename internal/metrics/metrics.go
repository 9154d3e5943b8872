// Package metrics exposes the proxy's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the proxy's collectors on a private registry so tests can
// construct as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedServers  prometheus.Gauge
	ReconnectAttempts *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	ToolCallErrors    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ConnectedServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "funnel_connected_servers",
			Help: "Number of downstream servers currently connected.",
		}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_reconnect_attempts_total",
			Help: "Reconnection attempts per downstream server.",
		}, []string{"server"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_tool_calls_total",
			Help: "Tool calls dispatched per downstream server.",
		}, []string{"server"}),
		ToolCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_tool_call_errors_total",
			Help: "Failed tool calls per downstream server.",
		}, []string{"server"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funnel_tool_call_duration_seconds",
			Help:    "Tool call latency per downstream server.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
	}
	registry.MustRegister(
		m.ConnectedServers,
		m.ReconnectAttempts,
		m.ToolCalls,
		m.ToolCallErrors,
		m.ToolCallDuration,
	)
	return m
}

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
