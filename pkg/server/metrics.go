package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each Server owns its own
// registry so multiple servers (and tests) never fight over collector names.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Counter
	sessions       prometheus.Gauge
	messages       *prometheus.CounterVec
	broadcasts     prometheus.Counter
	sendErrors     prometheus.Counter
	protocolErrors prometheus.Counter
	hunks          *prometheus.CounterVec
	documentBytes  prometheus.Gauge
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coedit",
			Name:      "connections_total",
			Help:      "Connections accepted since start.",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coedit",
			Name:      "sessions_active",
			Help:      "Connections with a completed handshake.",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coedit",
			Name:      "messages_total",
			Help:      "Inbound messages dispatched, by command code.",
		}, []string{"code"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coedit",
			Name:      "broadcasts_total",
			Help:      "Fanout operations performed.",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coedit",
			Name:      "send_errors_total",
			Help:      "Failed sends; each one tears down its connection.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coedit",
			Name:      "protocol_errors_total",
			Help:      "Malformed, unknown or out-of-order messages dropped.",
		}),
		hunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coedit",
			Name:      "patch_hunks_total",
			Help:      "Patch hunks by merge outcome (applied or dropped).",
		}, []string{"result"}),
		documentBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coedit",
			Name:      "document_bytes",
			Help:      "Size of the committed document text.",
		}),
	}
}

// Handler returns the /metrics endpoint handler for this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
