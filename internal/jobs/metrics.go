package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rolledItems *prometheus.CounterVec
	pendingEOD  prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddRolledItems counts the records touched by a rollover of the given kind.
func (m *Metrics) AddRolledItems(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rolledItems.WithLabelValues(kind).Add(float64(count))
}

// PendingEOD counts a nightly check that found on-bar sales not yet rolled over.
func (m *Metrics) PendingEOD() {
	if m == nil {
		return
	}
	m.pendingEOD.Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "barstock_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	rolled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_rollover_items_total",
		Help: "Products or on-bar items processed by end-of-day rollovers.",
	}, []string{"kind"})
	pending := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barstock_eod_pending_total",
		Help: "Nightly checks that found on-bar sales awaiting rollover.",
	})
	registerer.MustRegister(runs, failures, duration, rolled, pending)
	return &Metrics{runs: runs, failures: failures, duration: duration, rolledItems: rolled, pendingEOD: pending}
}
