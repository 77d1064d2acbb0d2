package kvstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanquota_store_operations_total",
			Help: "Total key/value store operations by operation and result",
		},
		[]string{"op", "result"}, // result: "ok", "miss", "error"
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanquota_store_operation_duration_seconds",
			Help:    "Key/value store round-trip duration by operation",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"op"},
	)

	storeConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanquota_store_connect_attempts_total",
			Help: "Connection attempts to the key/value store by result",
		},
		[]string{"result"},
	)

	sweptKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanquota_store_swept_keys_total",
			Help: "Total keys deleted by prefix sweeps",
		},
	)
)
