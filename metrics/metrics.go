// Package metrics collects per-batch counters and writes them in the
// Prometheus text format next to the batch reports, where a node exporter
// textfile collector can pick them up.
package metrics

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "simrun"
	// TextfileName is the metrics file inside a batch directory.
	TextfileName = "simrun.prom"
)

// Metrics holds the collectors of one batch. Each batch gets its own
// registry, so nothing is shared between batches.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	resultsTotal   *prometheus.CounterVec
	runDuration    *prometheus.GaugeVec
	batchDuration  prometheus.Gauge
	batchTimestamp prometheus.Gauge
	selectedTests  prometheus.Gauge
}

// New creates the collectors for a batch on revision and machine.
func New(revision, machine string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"revision": revision, "machine": machine}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   MetricsNamespace,
			Name:        "runs_total",
			Help:        "Number of simulation runs by final state",
			ConstLabels: labels,
		}, []string{"state"}),
		resultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   MetricsNamespace,
			Name:        "results_total",
			Help:        "Number of comparator results by outcome",
			ConstLabels: labels,
		}, []string{"result"}),
		runDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   MetricsNamespace,
			Name:        "run_duration_seconds",
			Help:        "Wall-clock duration of each simulation run",
			ConstLabels: labels,
		}, []string{"test"}),
		batchDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   MetricsNamespace,
			Name:        "batch_duration_seconds",
			Help:        "Wall-clock duration of the batch",
			ConstLabels: labels,
		}),
		batchTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   MetricsNamespace,
			Name:        "batch_timestamp_seconds",
			Help:        "Unix time the batch finished",
			ConstLabels: labels,
		}),
		selectedTests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   MetricsNamespace,
			Name:        "selected_tests",
			Help:        "Number of tests selected for the batch",
			ConstLabels: labels,
		}),
	}
}

// RecordSelected records the size of the selection.
func (m *Metrics) RecordSelected(n int) {
	m.selectedTests.Set(float64(n))
}

// RecordRun records the final state of one instance and, if it ran, its
// duration.
func (m *Metrics) RecordRun(test, state string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(state).Inc()
	if elapsed > 0 {
		m.runDuration.WithLabelValues(test).Set(elapsed.Seconds())
	}
}

// RecordResults adds the outcome counts of the batch.
func (m *Metrics) RecordResults(passed, failed, errored int) {
	m.resultsTotal.WithLabelValues("pass").Add(float64(passed))
	m.resultsTotal.WithLabelValues("fail").Add(float64(failed))
	m.resultsTotal.WithLabelValues("error").Add(float64(errored))
}

// RecordBatch records the batch duration and completion time.
func (m *Metrics) RecordBatch(duration time.Duration, finished time.Time) {
	m.batchDuration.Set(duration.Seconds())
	m.batchTimestamp.Set(float64(finished.Unix()))
}

// Registry returns the gatherer of the batch.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics into dir and returns the file path.
func (m *Metrics) WriteTextfile(dir string) (string, error) {
	path := filepath.Join(dir, TextfileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return "", fmt.Errorf("failed to write metrics: %w", err)
	}
	return path, nil
}
