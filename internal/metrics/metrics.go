// Package metrics holds the Prometheus metrics of the reset engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

const namespace = "baseline"

// Metrics is a set of collectors registered on one registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	testsStarted  prometheus.Counter
	resets        prometheus.Counter
	resetFailures prometheus.Counter
	tablesReset   prometheus.Counter
	rowsRestored  prometheus.Counter
	ignored       prometheus.Counter
	driftTables   prometheus.Counter
	resetDuration prometheus.Histogram
	accesses      *prometheus.CounterVec
}

// New registers the collectors on reg, or on a fresh registry when reg is
// nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry:      reg,
		testsStarted:  counter("tests_started_total", "Test boundaries signalled"),
		resets:        counter("resets_total", "Resets committed"),
		resetFailures: counter("reset_failures_total", "Resets that failed and were rolled back"),
		tablesReset:   counter("tables_reset_total", "Tables cleared and restored"),
		rowsRestored:  counter("rows_restored_total", "Baseline rows reinserted"),
		ignored:       counter("ignored_tables_total", "Written tables missing from the schema graph"),
		driftTables:   counter("drift_tables_total", "Tables found different from the baseline after a reset"),
		resetDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reset_duration_seconds",
			Help:      "Duration of plan and apply at a test boundary",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		accesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accesses_total",
			Help:      "Recorded table accesses by operation kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.testsStarted, m.resets, m.resetFailures, m.tablesReset,
		m.rowsRestored, m.ignored, m.driftTables,
		m.resetDuration, m.accesses,
	)
	return m
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveAccess(kind types.OperationKind) {
	if m == nil {
		return
	}
	m.accesses.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserveTestStarted() {
	if m == nil {
		return
	}
	m.testsStarted.Inc()
}

// ObserveReset records one boundary reset. err is the outcome.
func (m *Metrics) ObserveReset(tables int, rows int64, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.resetDuration.Observe(d.Seconds())
	if err != nil {
		m.resetFailures.Inc()
		return
	}
	m.resets.Inc()
	m.tablesReset.Add(float64(tables))
	m.rowsRestored.Add(float64(rows))
}

func (m *Metrics) ObserveIgnored(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ignored.Add(float64(n))
}

func (m *Metrics) ObserveDrift(n int) {
	if m == nil || n == 0 {
		return
	}
	m.driftTables.Add(float64(n))
}
