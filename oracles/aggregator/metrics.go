package aggregator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of an Aggregator.
type Metrics struct {
	quotes      *prometheus.CounterVec
	assignments *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	labels := prometheus.Labels{"aggregator": name}
	m := &Metrics{
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "oracle",
			Subsystem:   "aggregator",
			Name:        "quotes_total",
			Help:        "Quotes routed, by assigned backend and outcome.",
			ConstLabels: labels,
		}, []string{"backend", "outcome"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "oracle",
			Subsystem:   "aggregator",
			Name:        "assignments_total",
			Help:        "Assignments written, by backend and whether they were forced.",
			ConstLabels: labels,
		}, []string{"backend", "forced"}),
	}
	reg.MustRegister(m.quotes, m.assignments)
	return m
}
