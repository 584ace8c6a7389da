package state

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of a DB.
type Metrics struct {
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	budgetUsed   *prometheus.HistogramVec
	hookFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Subsystem: "state",
			Name:      "units_total",
			Help:      "Units of work by mode and outcome.",
		}, []string{"mode", "outcome"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oracle",
			Subsystem: "state",
			Name:      "unit_duration_seconds",
			Help:      "Wall time of top-level units of work.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		budgetUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oracle",
			Subsystem: "state",
			Name:      "budget_used",
			Help:      "Execution budget consumed per top-level unit of work.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 4, 10),
		}, []string{"mode"}),
		hookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle",
			Subsystem: "state",
			Name:      "after_commit_failures_total",
			Help:      "After-commit hooks that returned an error.",
		}),
	}
	reg.MustRegister(m.units, m.unitDuration, m.budgetUsed, m.hookFailures)
	return m
}
