package enforcement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enforcementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_enforcement_decisions_total",
		Help: "Protected requests by action and outcome",
	}, []string{"action", "outcome"})

	enforcementHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scanquota_enforcement_handler_duration_seconds",
		Help:    "Duration of protected handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
)
