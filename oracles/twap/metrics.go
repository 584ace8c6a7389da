package twap

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of a Backend.
type Metrics struct {
	admissions     *prometheus.CounterVec
	poolsAdmitted  prometheus.Histogram
	growthRequests prometheus.Counter
}

// NewMetrics creates the collectors, labelled with the backend name, and
// registers them with reg.
func NewMetrics(reg prometheus.Registerer, backend string) *Metrics {
	labels := prometheus.Labels{"backend": backend}
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "oracle",
			Subsystem:   "twap",
			Name:        "admissions_total",
			Help:        "Pool admission runs by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		poolsAdmitted: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "oracle",
			Subsystem:   "twap",
			Name:        "pools_admitted",
			Help:        "Pools in the set persisted by a successful admission.",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		growthRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "oracle",
			Subsystem:   "twap",
			Name:        "growth_requests_total",
			Help:        "Observation buffer growth requests sent to the pool registry.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.admissions, m.poolsAdmitted, m.growthRequests)
	return m
}
