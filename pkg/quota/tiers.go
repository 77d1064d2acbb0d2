package quota

import (
	"slices"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrUnknownTier is returned when a tier has no limits and no default tier
// is configured.
var ErrUnknownTier = errors.New("quota: unknown tier")

// Unlimited marks a window that is never denied.
const Unlimited int64 = -1

// ActionLimits holds the limit of each window of one action.
type ActionLimits map[Granularity]int64

// Limits maps tier -> action -> window -> limit.
type Limits map[string]map[string]ActionLimits

// DefaultLimits returns the free and premium tiers.
func DefaultLimits() Limits {
	return Limits{
		"free": {
			"scan":        {Monthly: 25},
			"ai-question": {Daily: 3, Monthly: 60},
			"export":      {Monthly: 5},
			"api-call":    {Monthly: 100},
		},
		"premium": {
			"scan":        {Monthly: Unlimited},
			"ai-question": {Daily: Unlimited, Monthly: Unlimited},
			"export":      {Monthly: Unlimited},
			"api-call":    {Monthly: Unlimited},
		},
	}
}

// Tiers returns the configured tier names in sorted order.
func (l Limits) Tiers() []string {
	out := make([]string, 0, len(l))
	for tier := range l {
		out = append(out, tier)
	}
	sort.Strings(out)
	return out
}

// Validate checks the limits against the period table. Every tier must
// define a limit for every window of every metered action, and may not
// name actions or windows the table does not know.
func (l Limits) Validate(periods PeriodTable) error {
	if len(l) == 0 {
		return errors.Wrap(ErrPeriodMisconfiguration, "no tiers configured")
	}
	for _, tier := range l.Tiers() {
		actions := l[tier]
		for action, windows := range actions {
			allowed, ok := periods[action]
			if !ok {
				return errors.Wrapf(ErrPeriodMisconfiguration, "tier %q: action %q has no period mapping", tier, action)
			}
			for g, limit := range windows {
				if !slices.Contains(allowed, g) {
					return errors.Wrapf(ErrPeriodMisconfiguration, "tier %q: action %q has no %s window", tier, action, g)
				}
				if limit < Unlimited {
					return errors.Wrapf(ErrPeriodMisconfiguration, "tier %q: action %q %s limit %d is negative", tier, action, g, limit)
				}
			}
		}
		for _, action := range periods.Actions() {
			for _, g := range periods[action] {
				if _, ok := actions[action][g]; !ok {
					return errors.Wrapf(ErrPeriodMisconfiguration, "tier %q: missing %s limit for action %q", tier, g, action)
				}
			}
		}
	}
	return nil
}
