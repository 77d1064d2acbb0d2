// Package ratelimit implements short-window burst protection.
//
// Each (action, identifier) pair owns a fixed-window counter in the shared
// store under ratelimit:<action>:<identifier>. The first request of a
// window creates the counter and arms its expiry in one atomic step; the
// window restarts when the key expires. Up to twice the limit can pass
// across a window seam.
//
// The limiter is independent of quota accounting: a request within its
// quota can still be rejected here.
package ratelimit

import (
	"time"

	"github.com/cockroachdb/errors"
)

// KeyPrefix is the store namespace of rate limit counters.
const KeyPrefix = "ratelimit:"

// CounterKey returns the store key of the counter for action and identifier.
func CounterKey(action, identifier string) string {
	return KeyPrefix + action + ":" + identifier
}

// ErrInvalidRule is returned for rules with a non-positive limit or window.
var ErrInvalidRule = errors.New("ratelimit: invalid rule")

// Rule is a fixed-window limit: at most Limit requests per Window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRule allows 100 requests per minute.
var DefaultRule = Rule{Limit: 100, Window: time.Minute}

// Validate checks that the limit and window are positive. Windows are
// tracked with millisecond precision.
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return errors.Wrapf(ErrInvalidRule, "limit %d must be positive", r.Limit)
	}
	if r.Window < time.Millisecond {
		return errors.Wrapf(ErrInvalidRule, "window %s must be at least 1ms", r.Window)
	}
	return nil
}

// Rules selects the rule for an action.
type Rules struct {
	Default Rule
	Actions map[string]Rule
}

// DefaultRules returns DefaultRule for everything, with tighter limits on
// the expensive actions.
func DefaultRules() Rules {
	return Rules{
		Default: DefaultRule,
		Actions: map[string]Rule{
			"ai-question": {Limit: 10, Window: time.Minute},
			"export":      {Limit: 5, Window: time.Minute},
		},
	}
}

// For returns the rule of action, or the default rule.
func (r Rules) For(action string) Rule {
	if rule, ok := r.Actions[action]; ok {
		return rule
	}
	return r.Default
}

// Validate checks every rule.
func (r Rules) Validate() error {
	if err := r.Default.Validate(); err != nil {
		return errors.Wrap(err, "default rule")
	}
	for action, rule := range r.Actions {
		if err := rule.Validate(); err != nil {
			return errors.Wrapf(err, "rule for %q", action)
		}
	}
	return nil
}

// Result describes a counter after a check.
type Result struct {
	Allowed bool

	// Count is the number of requests seen in the current window,
	// including this one when consumed.
	Count int64

	Limit     int64
	Remaining int64

	// ResetAt is when the current window ends.
	ResetAt time.Time

	// Degraded is set when the store failed and the request was allowed
	// without being counted.
	Degraded bool
}

// RetryAfter returns how long a denied caller should wait. It returns 0
// once the window has ended.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
