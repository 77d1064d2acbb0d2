// Package metrics exposes the Prometheus metrics of the scan-quota core.
// All metrics are defined in their respective packages (kvstore, cache,
// quota, ratelimit, enforcement, analysis) to maintain modularity and
// avoid circular dependencies.
//
// This package provides the HTTP handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gatherer is the source served by Handler. All metrics are registered
// with the default registry via promauto in their respective packages.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Store Metrics (pkg/kvstore):
//   - scanquota_store_operations_total{op, result} (Counter): Store round-trips by operation and result (ok, miss, error)
//   - scanquota_store_operation_duration_seconds{op} (Histogram): Store round-trip latency
//   - scanquota_store_connect_attempts_total{result} (Counter): Startup connection attempts
//   - scanquota_store_swept_keys_total (Counter): Keys deleted by prefix sweeps
//
// Cache Metrics (pkg/cache):
//   - scanquota_cache_hits_total (Counter): Cache hits
//   - scanquota_cache_misses_total (Counter): Cache misses, including store and decode failures
//   - scanquota_cache_sets_total (Counter): Entries written
//   - scanquota_cache_entry_size_bytes (Histogram): Encoded entry size
//   - scanquota_cache_invalidated_keys_total (Counter): Keys removed by invalidation
//   - scanquota_cache_errors_total{operation} (Counter): Cache operation errors
//
// Quota Metrics (pkg/quota):
//   - scanquota_quota_checks_total{action, result} (Counter): Checks by outcome (allowed, denied, unlimited, degraded)
//   - scanquota_quota_increments_total{action} (Counter): Committed usage
//   - scanquota_quota_adjustments_total{kind} (Counter): Resets and bonuses
//   - scanquota_quota_errors_total{operation} (Counter): Store errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - scanquota_ratelimit_requests_total{action, result} (Counter): Decisions (allowed, denied, degraded)
//   - scanquota_ratelimit_errors_total{operation} (Counter): Store errors
//
// Enforcement Metrics (pkg/enforcement):
//   - scanquota_enforcement_decisions_total{action, outcome} (Counter): Protected requests by outcome
//   - scanquota_enforcement_handler_duration_seconds{action} (Histogram): Protected handler duration
//
// Analysis Metrics (pkg/analysis):
//   - scanquota_analysis_requests_total{category, result} (Counter): hit, miss, coalesced, error
//   - scanquota_analysis_duration_seconds{category} (Histogram): Analyzer run duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(scanquota_cache_hits_total[5m])) /
//   (sum(rate(scanquota_cache_hits_total[5m])) + sum(rate(scanquota_cache_misses_total[5m])))
//
//   # Requests served while the store was down
//   sum(rate(scanquota_quota_checks_total{result="degraded"}[5m]))
//
//   # Quota denials by action
//   sum by (action) (rate(scanquota_quota_checks_total{result="denied"}[1h]))
//
//   # P95 store latency
//   histogram_quantile(0.95, rate(scanquota_store_operation_duration_seconds_bucket[5m]))
