// Package enforcement puts the rate limiter and the quota ledger in front
// of an action handler.
//
// A protected request passes the rate limiter, then (for metered actions)
// the quota ledger, then runs the handler. Usage is charged only after the
// handler succeeds; denied and failed requests are never charged. Rate
// limit denials never touch quota counters.
package enforcement

import (
	"time"
)

// LimitType identifies the layer that produced a decision.
type LimitType string

// Limit types.
const (
	LimitNone         LimitType = ""
	LimitRate         LimitType = "rate"
	LimitDailyQuota   LimitType = "daily-quota"
	LimitMonthlyQuota LimitType = "monthly-quota"
)

// Decision is the outcome of enforcement for one request. For allowed
// requests Remaining, Limit and ResetAt describe the tightest layer, with
// Remaining and Limit set to -1 when nothing limits the action. Denied
// requests always report Remaining 0.
type Decision struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
	LimitType LimitType
	RequestID string
	Action    string

	// Degraded is set when a layer could not reach the store and let the
	// request through.
	Degraded bool
}

// RetryAfter returns how long a denied caller should wait before
// retrying. It is 0 for allowed requests.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetAt.IsZero() {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reason returns a machine-readable denial reason, or "" when allowed.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	switch d.LimitType {
	case LimitRate:
		return "rate_limit_exceeded"
	case LimitDailyQuota:
		return "daily_quota_exceeded"
	case LimitMonthlyQuota:
		return "monthly_quota_exceeded"
	default:
		return "denied"
	}
}
