// Package quota implements the tiered usage ledger.
//
// Every metered action is counted per user in one or more calendar windows
// (daily, monthly; always UTC). A window's counter lives in the store under
// quota:<userId>:<action>:<periodKey> and expires at the end of its period,
// so no sweep job is needed. Limits are configured per tier; the sentinel
// Unlimited (-1) short-circuits counting checks for that window.
//
// The ledger keeps no state in memory. Counters are changed only through
// atomic store operations:
//
//	status, err := ledger.Check(ctx, "u1", "free", "scan")
//	if status.Allowed {
//		// ... do the work ...
//		ledger.Increment(ctx, "u1", "scan")
//	}
//
// Check and Increment fail open when the store is unavailable. The
// administrative operations (Reset, AddBonus, Usage) return store errors.
package quota
