package quota

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPeriodMisconfiguration is returned for actions without a configured
// window, and wraps every validation failure of the period table and
// tier limits.
var ErrPeriodMisconfiguration = errors.New("quota: period misconfiguration")

// Granularity is the length of a quota period.
type Granularity string

// Supported granularities.
const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
)

// ParseGranularity parses "daily" or "monthly" (case-insensitive).
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", errors.Wrapf(ErrPeriodMisconfiguration, "unknown granularity %q", s)
	}
	return g, nil
}

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	return g == Daily || g == Monthly
}

// PeriodKey formats the period containing t: YYYY-MM-DD for daily,
// YYYY-MM for monthly.
func (g Granularity) PeriodKey(t time.Time) string {
	t = t.UTC()
	if g == Daily {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01")
}

// PeriodStart returns the first instant of the period containing t.
func (g Granularity) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	if g == Daily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the first instant after the period containing t.
func (g Granularity) PeriodEnd(t time.Time) time.Time {
	start := g.PeriodStart(t)
	if g == Daily {
		return start.AddDate(0, 0, 1)
	}
	return start.AddDate(0, 1, 0)
}

// LimitType names the denial reason reported for this granularity.
func (g Granularity) LimitType() string {
	return string(g) + "-quota"
}

// PeriodTable maps each metered action to its windows. The first entry is
// the action's primary window.
type PeriodTable map[string][]Granularity

// DefaultPeriods returns the standard action classes: questions are
// counted per day (and per month), everything else per month.
func DefaultPeriods() PeriodTable {
	return PeriodTable{
		"ai-question": {Daily, Monthly},
		"scan":        {Monthly},
		"export":      {Monthly},
		"api-call":    {Monthly},
	}
}

// Actions returns the metered actions in sorted order.
func (p PeriodTable) Actions() []string {
	out := make([]string, 0, len(p))
	for action := range p {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every action has at least one window and that no
// window is repeated.
func (p PeriodTable) Validate() error {
	if len(p) == 0 {
		return errors.Wrap(ErrPeriodMisconfiguration, "no metered actions configured")
	}
	for _, action := range p.Actions() {
		if action == "" || strings.ContainsAny(action, ":*?[]\\ ") {
			return errors.Wrapf(ErrPeriodMisconfiguration, "invalid action name %q", action)
		}
		windows := p[action]
		if len(windows) == 0 {
			return errors.Wrapf(ErrPeriodMisconfiguration, "action %q has no window", action)
		}
		seen := make(map[Granularity]bool, len(windows))
		for _, g := range windows {
			if !g.Valid() {
				return errors.Wrapf(ErrPeriodMisconfiguration, "action %q: unknown granularity %q", action, g)
			}
			if seen[g] {
				return errors.Wrapf(ErrPeriodMisconfiguration, "action %q: duplicate window %q", action, g)
			}
			seen[g] = true
		}
	}
	return nil
}
