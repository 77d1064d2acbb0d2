package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// KeyPrefix is the store namespace of quota counters.
const KeyPrefix = "quota:"

var (
	// ErrInvalidUser is returned for an empty user id.
	ErrInvalidUser = errors.New("quota: user id cannot be empty")

	// ErrInvalidAmount is returned by AddBonus for non-positive amounts.
	ErrInvalidAmount = errors.New("quota: bonus amount must be positive")
)

// CounterKey returns the store key of one counter.
func CounterKey(userID, action, periodKey string) string {
	return KeyPrefix + userID + ":" + action + ":" + periodKey
}

// Config holds ledger settings.
type Config struct {
	Periods PeriodTable
	Limits  Limits

	// DefaultTier is applied to requests carrying a tier without limits.
	// Empty means such requests fail with ErrUnknownTier.
	DefaultTier string
}

// DefaultConfig returns the standard periods and the free/premium tiers,
// falling back to free.
func DefaultConfig() Config {
	return Config{
		Periods:     DefaultPeriods(),
		Limits:      DefaultLimits(),
		DefaultTier: "free",
	}
}

// Validate checks the period table and limits for consistency.
func (c Config) Validate() error {
	if err := c.Periods.Validate(); err != nil {
		return err
	}
	if err := c.Limits.Validate(c.Periods); err != nil {
		return err
	}
	if c.DefaultTier != "" {
		if _, ok := c.Limits[c.DefaultTier]; !ok {
			return errors.Wrapf(ErrPeriodMisconfiguration, "default tier %q has no limits", c.DefaultTier)
		}
	}
	return nil
}

// Window is the state of one counter.
type Window struct {
	Granularity Granularity
	PeriodKey   string
	Count       int64
	Limit       int64
	Remaining   int64
	Allowed     bool
	ResetAt     time.Time
}

// Unlimited reports whether the window is never denied.
func (w Window) Unlimited() bool { return w.Limit == Unlimited }

// Status is the result of a quota check. The top-level fields describe the
// binding window: the denied window that resets last, or, when nothing is
// denied, the finite window with the least remaining.
type Status struct {
	UserID      string
	Tier        string
	Action      string
	Allowed     bool
	Count       int64
	Limit       int64
	Remaining   int64
	ResetAt     time.Time
	Granularity Granularity

	// Windows lists every window of the action, primary first.
	Windows []Window

	// Degraded is set when the store could not be read and the check
	// failed open.
	Degraded bool
}

// Unlimited reports whether no window of the action is limited.
func (s Status) Unlimited() bool { return s.Limit == Unlimited }

// LimitType names the binding window for denials ("daily-quota",
// "monthly-quota"), or "" when the check allowed the action.
func (s Status) LimitType() string {
	if s.Allowed || s.Granularity == "" {
		return ""
	}
	return s.Granularity.LimitType()
}

// Ledger tracks per-user usage of metered actions.
type Ledger struct {
	store  kvstore.Store
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger validates cfg and creates a ledger.
func NewLedger(store kvstore.Store, cfg Config, logger zerolog.Logger, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("quota: store cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Metered reports whether action is subject to quota.
func (l *Ledger) Metered(action string) bool {
	_, ok := l.config.Periods[action]
	return ok
}

// Actions returns the metered actions in sorted order.
func (l *Ledger) Actions() []string {
	return l.config.Periods.Actions()
}

// PeriodKeyFor returns the key of the primary period of action at now.
func (l *Ledger) PeriodKeyFor(action string, now time.Time) (string, error) {
	windows, err := l.windows(action)
	if err != nil {
		return "", err
	}
	return windows[0].PeriodKey(now), nil
}

func (l *Ledger) windows(action string) ([]Granularity, error) {
	windows, ok := l.config.Periods[action]
	if !ok || len(windows) == 0 {
		return nil, errors.Wrapf(ErrPeriodMisconfiguration, "action %q has no period mapping", action)
	}
	return windows, nil
}

func (l *Ledger) limitsFor(tier, action string) (string, ActionLimits, error) {
	tierLimits, ok := l.config.Limits[tier]
	if !ok {
		if l.config.DefaultTier == "" {
			return "", nil, errors.Wrapf(ErrUnknownTier, "%q", tier)
		}
		l.logger.Debug().
			Str("tier", tier).
			Str("default_tier", l.config.DefaultTier).
			Msg("Unknown tier, applying default tier")
		tier = l.config.DefaultTier
		tierLimits = l.config.Limits[tier]
	}
	return tier, tierLimits[action], nil
}

// Check reports whether userID may perform action under tier's limits.
// It never modifies counters. Windows with unlimited limits are not read;
// if every window is unlimited the store is not touched at all. When the
// store cannot be read the check fails open and sets Degraded.
func (l *Ledger) Check(ctx context.Context, userID, tier, action string) (Status, error) {
	status, err := l.status(ctx, userID, tier, action, false)
	if err == nil {
		quotaChecks.WithLabelValues(action, checkResult(status)).Inc()
		return status, nil
	}
	if !kvstore.IsUnavailable(err) {
		return Status{}, err
	}

	quotaErrors.WithLabelValues("check").Inc()
	quotaChecks.WithLabelValues(action, "degraded").Inc()
	l.logger.Warn().
		Err(err).
		Str("user_id", userID).
		Str("action", action).
		Msg("Quota store unavailable, allowing request")

	status.Allowed = true
	status.Degraded = true
	return status, nil
}

// status builds the Status of one action. Unlimited windows are read only
// when readAll is set. On store errors it returns the error together with
// a Status in which every finite window is reported with its full
// allowance.
func (l *Ledger) status(ctx context.Context, userID, tier, action string, readAll bool) (Status, error) {
	if userID == "" {
		return Status{}, ErrInvalidUser
	}
	grans, err := l.windows(action)
	if err != nil {
		return Status{}, err
	}
	tier, limits, err := l.limitsFor(tier, action)
	if err != nil {
		return Status{}, err
	}

	now := l.now().UTC()
	status := Status{
		UserID:  userID,
		Tier:    tier,
		Action:  action,
		Windows: make([]Window, len(grans)),
	}

	var (
		keys   []string
		read   []int
		finite []int
	)
	for i, g := range grans {
		limit, ok := limits[g]
		if !ok {
			limit = Unlimited
		}
		w := Window{
			Granularity: g,
			PeriodKey:   g.PeriodKey(now),
			Limit:       limit,
			Remaining:   Unlimited,
			Allowed:     true,
			ResetAt:     g.PeriodEnd(now),
		}
		if limit != Unlimited {
			w.Remaining = limit
			finite = append(finite, i)
		}
		if limit != Unlimited || readAll {
			keys = append(keys, CounterKey(userID, action, w.PeriodKey))
			read = append(read, i)
		}
		status.Windows[i] = w
	}

	if len(keys) > 0 {
		vals, err := l.store.MGet(ctx, keys...)
		if err != nil {
			status.bind(finite)
			return status, errors.Wrapf(err, "read counters for %s/%s", userID, action)
		}
		for j, i := range read {
			w := &status.Windows[i]
			w.Count = parseCount(vals[j])
			if !w.Unlimited() {
				w.Remaining = max(0, w.Limit-w.Count)
				w.Allowed = w.Count < w.Limit
			}
		}
	}
	status.bind(finite)

	l.logger.Debug().
		Str("user_id", userID).
		Str("tier", tier).
		Str("action", action).
		Int64("count", status.Count).
		Int64("limit", status.Limit).
		Bool("allowed", status.Allowed).
		Msg("Quota checked")

	return status, nil
}

// bind copies the binding window among the finite windows into the
// top-level fields. Without finite windows the status is unlimited and
// reports the primary window's count.
func (s *Status) bind(finite []int) {
	if len(finite) == 0 {
		s.Allowed = true
		s.Count = s.Windows[0].Count
		s.Limit = Unlimited
		s.Remaining = Unlimited
		return
	}

	binding := -1
	for _, i := range finite {
		w := s.Windows[i]
		if w.Allowed {
			continue
		}
		if binding < 0 || w.ResetAt.After(s.Windows[binding].ResetAt) {
			binding = i
		}
	}
	s.Allowed = binding < 0
	if binding < 0 {
		for _, i := range finite {
			if binding < 0 || s.Windows[i].Remaining < s.Windows[binding].Remaining {
				binding = i
			}
		}
	}

	w := s.Windows[binding]
	s.Count = w.Count
	s.Limit = w.Limit
	s.Remaining = w.Remaining
	s.ResetAt = w.ResetAt
	s.Granularity = w.Granularity
}

func checkResult(s Status) string {
	switch {
	case s.Unlimited():
		return "unlimited"
	case s.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// Increment records one use of action by userID in every window of the
// action and returns the new count of the primary window. The increment
// that creates a counter, or finds it without expiry, atomically sets its
// expiry to the end of the period; no other code path sets quota expiries.
// Store errors are logged and reported as (0, nil).
func (l *Ledger) Increment(ctx context.Context, userID, action string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidUser
	}
	grans, err := l.windows(action)
	if err != nil {
		return 0, err
	}

	now := l.now().UTC()
	var primary int64
	for i, g := range grans {
		key := CounterKey(userID, action, g.PeriodKey(now))

		n, err := l.store.IncrUntil(ctx, key, g.PeriodEnd(now))
		if err != nil {
			quotaErrors.WithLabelValues("increment").Inc()
			l.logger.Warn().
				Err(err).
				Str("user_id", userID).
				Str("action", action).
				Str("window", string(g)).
				Msg("Quota increment failed, usage not recorded")
			return 0, nil
		}
		if i == 0 {
			primary = n
		}

		l.logger.Debug().
			Str("user_id", userID).
			Str("action", action).
			Str("window", string(g)).
			Int64("count", n).
			Msg("Quota incremented")
	}

	quotaIncrements.WithLabelValues(action).Inc()
	return primary, nil
}

// Reset deletes the current period's counters of action for userID.
func (l *Ledger) Reset(ctx context.Context, userID, action string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	grans, err := l.windows(action)
	if err != nil {
		return err
	}

	now := l.now().UTC()
	keys := make([]string, len(grans))
	for i, g := range grans {
		keys[i] = CounterKey(userID, action, g.PeriodKey(now))
	}

	n, err := l.store.Del(ctx, keys...)
	if err != nil {
		quotaErrors.WithLabelValues("reset").Inc()
		return errors.Wrapf(err, "reset quota %s/%s", userID, action)
	}

	quotaAdjustments.WithLabelValues("reset").Inc()
	l.logger.Info().
		Str("user_id", userID).
		Str("action", action).
		Int64("deleted", n).
		Msg("Quota reset")
	return nil
}

// AddBonus lowers the current usage of action for userID by amount in
// every window, never below zero. Counters keep their expiry; absent
// counters stay absent.
func (l *Ledger) AddBonus(ctx context.Context, userID, action string, amount int64) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "got %d", amount)
	}
	grans, err := l.windows(action)
	if err != nil {
		return err
	}

	now := l.now().UTC()
	for _, g := range grans {
		key := CounterKey(userID, action, g.PeriodKey(now))
		n, err := l.store.DecrFloor(ctx, key, amount)
		if err != nil {
			quotaErrors.WithLabelValues("bonus").Inc()
			return errors.Wrapf(err, "add bonus to %s", key)
		}
		l.logger.Info().
			Str("user_id", userID).
			Str("action", action).
			Str("window", string(g)).
			Int64("amount", amount).
			Int64("count", n).
			Msg("Quota bonus granted")
	}

	quotaAdjustments.WithLabelValues("bonus").Inc()
	return nil
}

// Usage reports the status of every metered action for userID under tier.
// Unlike Check it also reads unlimited windows and returns store errors.
func (l *Ledger) Usage(ctx context.Context, userID, tier string) ([]Status, error) {
	actions := l.Actions()
	out := make([]Status, 0, len(actions))
	for _, action := range actions {
		status, err := l.status(ctx, userID, tier, action, true)
		if err != nil {
			return nil, errors.Wrapf(err, "usage of %s", userID)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseCount(raw []byte) int64 {
	if raw == nil {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
