// Package metrics exposes Prometheus instrumentation for the relay server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the relay's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	MessagesRelayed   prometheus.Counter
	SendFailures      prometheus.Counter
	OversizedLines    prometheus.Counter
	AcceptErrors      prometheus.Counter
}

// New builds the relay metrics on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "connections_total",
			Help:      "Connections registered since start.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "active_connections",
			Help:      "Currently registered connections.",
		}),
		MessagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_relayed_total",
			Help:      "Message copies delivered to recipients.",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "send_failures_total",
			Help:      "Failed deliveries; each one disconnects its recipient.",
		}),
		OversizedLines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "oversized_lines_total",
			Help:      "Inbound lines exceeding the maximum length.",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "accept_errors_total",
			Help:      "Transient listener accept errors.",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
