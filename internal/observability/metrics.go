package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mdsync/internal/etl"
)

// Metrics holds the sync collectors on a dedicated registry so several
// instances (tests, reloads) never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	tripsLoaded *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	windows     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		tripsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdsync_trips_loaded_total",
			Help: "Trips upserted into the staging store.",
		}, []string{"provider"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdsync_duplicates_dropped_total",
			Help: "Trips dropped because their key was already seen in the window.",
		}, []string{"provider"}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdsync_windows_processed_total",
			Help: "Time windows fetched from providers.",
		}, []string{"provider"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdsync_runs_total",
			Help: "Finished sync runs by status.",
		}, []string{"provider", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mdsync_run_duration_seconds",
			Help:    "Wall time of a sync run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"provider"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdsync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"provider"}),
	}
	m.reg.MustRegister(m.tripsLoaded, m.duplicates, m.windows, m.runs, m.duration, m.lastSuccess)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RunFinished records the outcome of one run.
func (m *Metrics) RunFinished(provider, status string, d time.Duration, at time.Time) {
	m.runs.WithLabelValues(provider, status).Inc()
	m.duration.WithLabelValues(provider).Observe(d.Seconds())
	if status == "success" {
		m.lastSuccess.WithLabelValues(provider).Set(float64(at.Unix()))
	}
}

// Observer returns an etl.Observer that feeds this provider's counters.
func (m *Metrics) Observer(provider string) etl.Observer {
	return &providerObserver{m: m, provider: provider}
}

type providerObserver struct {
	m        *Metrics
	provider string
}

func (o *providerObserver) WindowDone(_ etl.TimeWindow, _, loaded int) {
	o.m.windows.WithLabelValues(o.provider).Inc()
	o.m.tripsLoaded.WithLabelValues(o.provider).Add(float64(loaded))
}

func (o *providerObserver) Duplicate(string) {
	o.m.duplicates.WithLabelValues(o.provider).Inc()
}
