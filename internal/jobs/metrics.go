package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift     prometheus.Counter
	lowStock  *prometheus.GaugeVec
	costDrift prometheus.Gauge
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

// AddDrift counts records whose journal no longer replays to their quantity.
func (m *Metrics) AddDrift(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drift.Add(float64(count))
}

// SetLowStock publishes the number of records below their minimum per location.
func (m *Metrics) SetLowStock(location string, count int) {
	if m == nil {
		return
	}
	m.lowStock.WithLabelValues(location).Set(float64(count))
}

// SetCostDrift publishes how many records the last revaluation flagged.
func (m *Metrics) SetCostDrift(count int) {
	if m == nil {
		return
	}
	m.costDrift.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockroom_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockroom_journal_drift_total",
		Help: "Records found with a journal that does not replay to the stored quantity.",
	})
	lowStock := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockroom_low_stock_records",
		Help: "Active records below their minimum quantity at the last scan.",
	}, []string{"location"})
	costDrift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockroom_cost_drift_records",
		Help: "Records whose stored unit cost differs from the journal replay at the last revaluation.",
	})
	registerer.MustRegister(runs, failures, duration, drift, lowStock, costDrift)
	return &Metrics{runs: runs, failures: failures, duration: duration, drift: drift, lowStock: lowStock, costDrift: costDrift}
}
