package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_ratelimit_requests_total",
		Help: "Rate limit decisions by action and outcome (allowed, denied, degraded)",
	}, []string{"action", "result"})

	rateLimitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_ratelimit_errors_total",
		Help: "Store errors encountered by the rate limiter",
	}, []string{"operation"})
)
