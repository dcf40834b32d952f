// Package telemetry holds the agent's own Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "telemetry_agent"

// Metrics are the self-observability collectors of one agent. Each agent
// registers them on its own registry so several agents can coexist in a
// process.
type Metrics struct {
	Registry *prometheus.Registry

	EventsEnqueued    *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	Exports           *prometheus.CounterVec
	TransportStatus   prometheus.Gauge
	ThreadsRegistered prometheus.Gauge
	ConfigUpdates     prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		EventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enqueued_total",
			Help:      "Events accepted from producer threads, by category.",
		}, []string{"category"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded by the agent, by category.",
		}, []string{"category"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Exporter calls, by payload kind and result.",
		}, []string{"kind", "result"}),
		TransportStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_status",
			Help:      "StatsD transport state: 0 initial, 1 connecting, 2 connected, 3 connection error.",
		}),
		ThreadsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads_registered",
			Help:      "Producer threads currently registered.",
		}),
		ConfigUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_updates_total",
			Help:      "Configuration trees applied.",
		}),
	}
	m.Registry.MustRegister(
		m.EventsEnqueued,
		m.EventsDropped,
		m.Exports,
		m.TransportStatus,
		m.ThreadsRegistered,
		m.ConfigUpdates,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveExport counts one exporter call.
func (m *Metrics) ObserveExport(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Exports.WithLabelValues(kind, result).Inc()
}
