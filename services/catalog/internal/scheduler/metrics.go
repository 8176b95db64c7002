package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogd_discovery_passes_total",
		Help: "Completed full discovery passes.",
	}, []string{"connector_type"})

	passFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogd_discovery_failures_total",
		Help: "Full discovery passes that ended in error.",
	}, []string{"connector_type"})
)

func init() {
	prometheus.MustRegister(passesTotal, passFailuresTotal)
}
