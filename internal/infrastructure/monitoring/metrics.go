// Package monitoring holds the Prometheus instrumentation for the worker
// subsystem. Collection is wired through every component; presentation is an
// optional scrape endpoint.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each Metrics instance carries its
// own registry so tests can construct them independently.
type Metrics struct {
	registry *prometheus.Registry

	// Event bus
	EventsPublished *prometheus.CounterVec

	// Command executor
	CommandsTotal   *prometheus.CounterVec
	CommandDuration prometheus.Histogram

	// Workers and sessions
	WorkersActive   prometheus.Gauge
	SessionsActive  prometheus.Gauge
	SessionsOpened  prometheus.Counter

	// Supervisor
	ProcessesReaped prometheus.Counter
	ForcedKills     prometheus.Counter

	// Host stats
	HostCPUPercent prometheus.Gauge
	HostMemPercent prometheus.Gauge
}

// NewMetrics creates a metrics collector with a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dockhand_events_published_total",
			Help: "Events published to the bus by kind",
		}, []string{"kind"}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dockhand_commands_total",
			Help: "One-shot command executions by outcome",
		}, []string{"status"}),
		CommandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dockhand_command_duration_seconds",
			Help:    "Wall time of one-shot command executions",
			Buckets: prometheus.DefBuckets,
		}),
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dockhand_workers_active",
			Help: "Registered, not-yet-reaped workers",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dockhand_terminal_sessions_active",
			Help: "Terminal sessions in Running state",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "dockhand_terminal_sessions_opened_total",
			Help: "Terminal sessions opened since start",
		}),
		ProcessesReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dockhand_processes_reaped_total",
			Help: "Child processes waited on",
		}),
		ForcedKills: factory.NewCounter(prometheus.CounterOpts{
			Name: "dockhand_forced_kills_total",
			Help: "Children killed after the shutdown grace period",
		}),
		HostCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dockhand_host_cpu_percent",
			Help: "Host CPU utilization",
		}),
		HostMemPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dockhand_host_memory_percent",
			Help: "Host memory utilization",
		}),
	}
}

// Handler returns the scrape handler for this collector's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the scrape endpoint on addr. Blocks; run in a goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
