package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the monitor's self-instrumentation on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Cycles            prometheus.Counter
	QueryErrors       prometheus.Counter
	Alerts            *prometheus.CounterVec
	DroppedDuplicates prometheus.Counter
	EntitiesTracked   prometheus.Gauge
	PendingConfirms   prometheus.Gauge
	SourceFailures    prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harborwatch_poll_cycles_total",
			Help: "Completed poll cycles.",
		}),
		QueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harborwatch_query_errors_total",
			Help: "Per-entity status queries that failed and were skipped for the cycle.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harborwatch_alerts_total",
			Help: "Alerts delivered, by reason.",
		}, []string{"reason"}),
		DroppedDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harborwatch_duplicate_confirmations_dropped_total",
			Help: "Confirmation enqueues dropped because one was already in flight.",
		}),
		EntitiesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harborwatch_entities_tracked",
			Help: "Entities with a health record in the store.",
		}),
		PendingConfirms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harborwatch_confirmations_pending",
			Help: "Entities currently mid-confirmation.",
		}),
		SourceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harborwatch_source_failures_total",
			Help: "Cycles where the snapshot source could not be listed at all.",
		}),
	}
	reg.MustRegister(
		m.Cycles, m.QueryErrors, m.Alerts, m.DroppedDuplicates,
		m.EntitiesTracked, m.PendingConfirms, m.SourceFailures,
	)
	return m
}

// Handler returns the HTTP handler serving the exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
