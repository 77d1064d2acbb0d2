package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanquota_cache_hits_total",
			Help: "Total number of analysis cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanquota_cache_misses_total",
			Help: "Total number of analysis cache misses",
		},
	)

	cacheSets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanquota_cache_sets_total",
			Help: "Total number of analysis results written to the cache",
		},
	)

	cacheEntrySize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanquota_cache_entry_size_bytes",
			Help:    "Encoded size of cache entries",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
	)

	cacheInvalidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanquota_cache_invalidated_keys_total",
			Help: "Total number of cache keys removed by invalidation",
		},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanquota_cache_errors_total",
			Help: "Total number of swallowed cache operation errors",
		},
		[]string{"operation"}, // "get", "decode", "set", "encode", "bookkeeping", "delete", "invalidate"
	)
)
