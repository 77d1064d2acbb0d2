package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotaChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_quota_checks_total",
		Help: "Quota checks by action and outcome (allowed, denied, unlimited, degraded)",
	}, []string{"action", "result"})

	quotaIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_quota_increments_total",
		Help: "Committed usage increments by action",
	}, []string{"action"})

	quotaAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_quota_adjustments_total",
		Help: "Administrative ledger changes by kind (reset, bonus)",
	}, []string{"kind"})

	quotaErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanquota_quota_errors_total",
		Help: "Store errors encountered by the quota ledger",
	}, []string{"operation"})
)
