// Package metrics exposes Prometheus collectors for the dashboard service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "krishii"

// Metrics holds every collector the service reports
type Metrics struct {
	registry *prometheus.Registry

	telemetryMessages *prometheus.CounterVec
	telemetryDropped  *prometheus.CounterVec
	connectionStatus  prometheus.Gauge
	fetchDuration     *prometheus.HistogramVec
	commands          *prometheus.CounterVec
	archiveDropped    prometheus.Counter
}

// New creates the collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		telemetryMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "messages_total",
			Help:      "Telemetry messages accepted, by topic.",
		}, []string{"topic"}),
		telemetryDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "dropped_total",
			Help:      "Telemetry messages dropped, by topic.",
		}, []string{"topic"}),
		connectionStatus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "connection_status",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 error.",
		}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Upstream request latency, by upstream and outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"upstream", "outcome"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Dispatched commands, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		archiveDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "archive_dropped_total",
			Help:      "Readings dropped because the archive queue was full.",
		}),
	}
}

// TelemetryMessage counts an accepted message
func (m *Metrics) TelemetryMessage(topic string) {
	if m == nil {
		return
	}
	m.telemetryMessages.WithLabelValues(topic).Inc()
}

// TelemetryDropped counts a malformed message
func (m *Metrics) TelemetryDropped(topic string) {
	if m == nil {
		return
	}
	m.telemetryDropped.WithLabelValues(topic).Inc()
}

// SetConnectionStatus records the current session state
func (m *Metrics) SetConnectionStatus(status int) {
	if m == nil {
		return
	}
	m.connectionStatus.Set(float64(status))
}

// ObserveFetch records one upstream call
func (m *Metrics) ObserveFetch(upstream, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(upstream, outcome).Observe(d.Seconds())
}

// Command counts one dispatch
func (m *Metrics) Command(kind, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind, outcome).Inc()
}

// ArchiveDropped counts one reading the archive could not queue
func (m *Metrics) ArchiveDropped() {
	if m == nil {
		return
	}
	m.archiveDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
