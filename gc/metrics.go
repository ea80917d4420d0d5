package gc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments exposed for collection runs.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	objectsScanned  prometheus.Counter
	objectsRemoved  prometheus.Counter
	runDuration     prometheus.Histogram
}

// NewMetrics constructs and, if reg is non-nil, registers the gc
// instruments. Passing a nil reg is valid and yields unregistered,
// still-usable instruments (handy for tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitcore",
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Garbage collection runs, by outcome.",
		}, []string{"dry_run"}),
		objectsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gitcore",
			Subsystem: "gc",
			Name:      "objects_scanned_total",
			Help:      "Loose objects examined across all collection runs.",
		}),
		objectsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gitcore",
			Subsystem: "gc",
			Name:      "objects_removed_total",
			Help:      "Loose objects removed across all collection runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gitcore",
			Subsystem: "gc",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a collection run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runsTotal, m.objectsScanned, m.objectsRemoved, m.runDuration)
	}
	return m
}

func (m *Metrics) observeRun(r *Report) {
	label := "false"
	if r.DryRun {
		label = "true"
	}
	m.runsTotal.WithLabelValues(label).Inc()
	m.objectsScanned.Add(float64(r.Scanned))
	m.objectsRemoved.Add(float64(r.Removed))
	m.runDuration.Observe(r.Duration.Seconds())
}
