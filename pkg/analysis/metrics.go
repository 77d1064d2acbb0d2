package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_analysis_requests_total",
		Help: "Analysis requests by category and outcome (hit, miss, coalesced, error)",
	}, []string{"category", "result"})

	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scanquota_analysis_duration_seconds",
		Help:    "Duration of analyzer runs on cache misses",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"category"})
)
