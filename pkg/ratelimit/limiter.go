package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Limiter gates requests per identifier and action.
type Limiter struct {
	store  kvstore.Store
	rules  Rules
	logger zerolog.Logger
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter applying rules.
func NewLimiter(store kvstore.Store, rules Rules, logger zerolog.Logger, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store cannot be nil")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		store:  store,
		rules:  rules,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Rule returns the rule applied to action.
func (l *Limiter) Rule(action string) Rule {
	return l.rules.For(action)
}

// Allow consumes one request against the configured rule of action.
func (l *Limiter) Allow(ctx context.Context, identifier, action string) Result {
	rule := l.rules.For(action)
	return l.CheckAndConsume(ctx, identifier, action, rule.Limit, rule.Window)
}

// CheckAndConsume counts one request for (identifier, action) and reports
// whether it fits in the current window. The request is counted even when
// it is denied. A store failure allows the request and sets Degraded.
func (l *Limiter) CheckAndConsume(ctx context.Context, identifier, action string, limit int64, window time.Duration) Result {
	if window < time.Millisecond {
		window = l.rules.Default.Window
	}

	key := CounterKey(action, identifier)
	count, ttl, err := l.store.IncrWindow(ctx, key, window)
	now := l.now()
	if err != nil {
		rateLimitErrors.WithLabelValues("consume").Inc()
		rateLimitRequests.WithLabelValues(action, "degraded").Inc()
		l.logger.Warn().
			Err(err).
			Str("identifier", identifier).
			Str("action", action).
			Msg("Rate limit store unavailable, allowing request")
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(window),
			Degraded:  true,
		}
	}

	res := Result{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: max(0, limit-count),
		ResetAt:   now.Add(ttl),
	}

	if res.Allowed {
		rateLimitRequests.WithLabelValues(action, "allowed").Inc()
	} else {
		rateLimitRequests.WithLabelValues(action, "denied").Inc()
	}

	l.logger.Debug().
		Str("identifier", identifier).
		Str("action", action).
		Int64("count", count).
		Int64("limit", limit).
		Bool("allowed", res.Allowed).
		Dur("reset_in", ttl).
		Msg("Rate limit checked")

	return res
}

// Peek reports the state of the current window without consuming a
// request. Store errors are returned.
func (l *Limiter) Peek(ctx context.Context, identifier, action string) (Result, error) {
	rule := l.rules.For(action)
	key := CounterKey(action, identifier)
	now := l.now()

	res := Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit,
		ResetAt:   now.Add(rule.Window),
	}

	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		rateLimitErrors.WithLabelValues("peek").Inc()
		return Result{}, errors.Wrapf(err, "peek %s", key)
	}

	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return Result{}, errors.Wrapf(err, "parse counter %s", key)
	}

	ttl, err := l.store.TTL(ctx, key)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return res, nil
	case err != nil:
		rateLimitErrors.WithLabelValues("peek").Inc()
		return Result{}, errors.Wrapf(err, "ttl %s", key)
	case ttl > 0:
		res.ResetAt = now.Add(ttl)
	}

	res.Count = count
	res.Remaining = max(0, rule.Limit-count)
	// The next request is the one that would be counted.
	res.Allowed = count < rule.Limit
	return res, nil
}

// Reset clears the current window of (identifier, action).
func (l *Limiter) Reset(ctx context.Context, identifier, action string) error {
	key := CounterKey(action, identifier)
	if _, err := l.store.Del(ctx, key); err != nil {
		rateLimitErrors.WithLabelValues("reset").Inc()
		return errors.Wrapf(err, "reset %s", key)
	}

	l.logger.Info().
		Str("identifier", identifier).
		Str("action", action).
		Msg("Rate limit window reset")
	return nil
}
