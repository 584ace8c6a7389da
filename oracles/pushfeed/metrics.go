package pushfeed

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of a Backend.
type Metrics struct {
	feedReads *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, backend string) *Metrics {
	m := &Metrics{
		feedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "oracle",
			Subsystem:   "pushfeed",
			Name:        "feed_reads_total",
			Help:        "Feed answers read while quoting, by validation outcome.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.feedReads)
	return m
}
