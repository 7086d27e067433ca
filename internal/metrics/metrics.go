// Package metrics exposes Prometheus instrumentation for the sync pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlaurent/sellsync/internal/domain/model"
)

// Metrics holds all Prometheus metrics for the sync service.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stepDuration  *prometheus.HistogramVec
	recordsTotal  *prometheus.CounterVec
	runInProgress prometheus.Gauge
	lastRunTime   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry, with the
// standard Go and process collectors registered alongside the sync metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellsync_runs_total",
				Help: "Total number of sync runs by trigger kind and final status",
			},
			[]string{"trigger", "status"},
		),

		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sellsync_run_duration_seconds",
				Help:    "Wall-clock duration of complete runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sellsync_step_duration_seconds",
				Help:    "Duration of individual pipeline steps in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step", "status"},
		),

		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellsync_records_total",
				Help: "Total number of records processed by outcome",
			},
			[]string{"outcome"},
		),

		runInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sellsync_run_in_progress",
				Help: "1 while a run is executing, 0 otherwise",
			},
		),

		lastRunTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sellsync_last_run_timestamp_seconds",
				Help: "Unix timestamp of the last run completion by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.stepDuration,
		m.recordsTotal,
		m.runInProgress,
		m.lastRunTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RunStarted marks a run as in progress.
func (m *Metrics) RunStarted() {
	m.runInProgress.Set(1)
}

// RunFinished records the outcome of a completed run.
func (m *Metrics) RunFinished(run model.SyncRun) {
	m.runInProgress.Set(0)
	m.runsTotal.WithLabelValues(string(run.Trigger), string(run.Status)).Inc()
	m.runDuration.Observe(run.Duration().Seconds())
	m.lastRunTime.WithLabelValues(string(run.Status)).SetToCurrentTime()

	m.recordsTotal.WithLabelValues("created").Add(float64(run.Stats.RecordsCreated))
	m.recordsTotal.WithLabelValues("updated").Add(float64(run.Stats.RecordsUpdated))
	m.recordsTotal.WithLabelValues("failed").Add(float64(run.Stats.RecordsFailed))

	for _, step := range run.Steps {
		m.stepDuration.WithLabelValues(string(step.Name), string(step.Status)).Observe(step.Duration.Seconds())
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
