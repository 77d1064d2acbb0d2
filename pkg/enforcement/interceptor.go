package enforcement

import (
	"context"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/quota"
	"github.com/Sternrassler/scan-quota/pkg/ratelimit"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidRequest is returned for requests without an action or without
// any identity.
var ErrInvalidRequest = errors.New("enforcement: invalid request")

// Request identifies who performs which action.
type Request struct {
	UserID string
	Tier   string
	Action string

	// Identifier keys the rate limiter. Defaults to UserID.
	Identifier string

	// RequestID correlates log lines. Generated when empty.
	RequestID string
}

// RateLimiter is the rate limiting layer.
type RateLimiter interface {
	Allow(ctx context.Context, identifier, action string) ratelimit.Result
	Peek(ctx context.Context, identifier, action string) (ratelimit.Result, error)
}

// QuotaLedger is the quota layer.
type QuotaLedger interface {
	Metered(action string) bool
	Check(ctx context.Context, userID, tier, action string) (quota.Status, error)
	Increment(ctx context.Context, userID, action string) (int64, error)
}

// Handler is the protected action.
type Handler func(ctx context.Context) error

// Interceptor enforces rate limits and quotas around handlers.
type Interceptor struct {
	limiter RateLimiter
	ledger  QuotaLedger
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// Option customizes an Interceptor.
type Option func(*Interceptor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) { i.now = now }
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(newID func() string) Option {
	return func(i *Interceptor) { i.newID = newID }
}

// NewInterceptor creates an interceptor.
func NewInterceptor(limiter RateLimiter, ledger QuotaLedger, logger zerolog.Logger, opts ...Option) *Interceptor {
	if limiter == nil || ledger == nil {
		panic("limiter and ledger cannot be nil")
	}
	i := &Interceptor{
		limiter: limiter,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Interceptor) normalize(req Request) (Request, error) {
	if req.RequestID == "" {
		req.RequestID = i.newID()
	}
	if req.Identifier == "" {
		req.Identifier = req.UserID
	}
	if req.Action == "" {
		return req, errors.Wrap(ErrInvalidRequest, "action is required")
	}
	if req.Identifier == "" {
		return req, errors.Wrap(ErrInvalidRequest, "user id or identifier is required")
	}
	return req, nil
}

// Protect runs handler if req passes the rate limiter and the quota
// ledger, and charges quota once handler has returned nil.
//
// Denials are reported as (Decision{Allowed: false}, nil) and the handler
// is not run. A handler error is returned unchanged alongside the allowed
// decision, and nothing is charged. The charge itself is not cancelled
// when ctx is.
func (i *Interceptor) Protect(ctx context.Context, req Request, handler Handler) (Decision, error) {
	req, err := i.normalize(req)
	if err != nil {
		return Decision{RequestID: req.RequestID, Action: req.Action}, err
	}
	logger := i.logger.With().
		Str("request_id", req.RequestID).
		Str("user_id", req.UserID).
		Str("action", req.Action).
		Logger()

	rate := i.limiter.Allow(ctx, req.Identifier, req.Action)
	if !rate.Allowed {
		enforcementDecisions.WithLabelValues(req.Action, "denied_rate").Inc()
		logger.Debug().
			Int64("count", rate.Count).
			Int64("limit", rate.Limit).
			Msg("Request rejected by rate limiter")
		return denyRate(req, rate), nil
	}

	metered := i.ledger.Metered(req.Action)
	var status quota.Status
	if metered {
		status, err = i.ledger.Check(ctx, req.UserID, req.Tier, req.Action)
		if err != nil {
			enforcementDecisions.WithLabelValues(req.Action, "error").Inc()
			return Decision{RequestID: req.RequestID, Action: req.Action}, errors.Wrap(err, "check quota")
		}
		if !status.Allowed {
			d := denyQuota(req, status)
			enforcementDecisions.WithLabelValues(req.Action, "denied_"+string(d.LimitType)).Inc()
			logger.Debug().
				Str("limit_type", string(d.LimitType)).
				Int64("count", status.Count).
				Int64("limit", status.Limit).
				Msg("Request rejected by quota")
			return d, nil
		}
	}

	start := i.now()
	err = handler(ctx)
	enforcementHandlerDuration.WithLabelValues(req.Action).Observe(i.now().Sub(start).Seconds())
	if err != nil {
		enforcementDecisions.WithLabelValues(req.Action, "handler_error").Inc()
		logger.Debug().Err(err).Msg("Handler failed, usage not charged")
		return allow(req, rate, status, metered), err
	}

	if metered {
		count, err := i.ledger.Increment(context.WithoutCancel(ctx), req.UserID, req.Action)
		if err != nil {
			// The ledger only errors on programming faults; the handler's
			// result stands.
			logger.Error().Err(err).Msg("Failed to charge usage")
		} else {
			status = charged(status)
			logger.Debug().Int64("count", count).Msg("Usage charged")
		}
	}

	enforcementDecisions.WithLabelValues(req.Action, "allowed").Inc()
	return allow(req, rate, status, metered), nil
}

// Check reports the decision Protect would make for req without running
// anything, consuming rate limit capacity or charging quota. Rate limiter
// store errors are treated as allowed.
func (i *Interceptor) Check(ctx context.Context, req Request) (Decision, error) {
	req, err := i.normalize(req)
	if err != nil {
		return Decision{RequestID: req.RequestID, Action: req.Action}, err
	}

	rate, err := i.limiter.Peek(ctx, req.Identifier, req.Action)
	if err != nil {
		i.logger.Warn().
			Err(err).
			Str("request_id", req.RequestID).
			Msg("Rate limit preflight failed, assuming allowed")
		rate = ratelimit.Result{Allowed: true, Limit: -1, Remaining: -1, Degraded: true}
	}
	if !rate.Allowed {
		return denyRate(req, rate), nil
	}

	metered := i.ledger.Metered(req.Action)
	var status quota.Status
	if metered {
		status, err = i.ledger.Check(ctx, req.UserID, req.Tier, req.Action)
		if err != nil {
			return Decision{RequestID: req.RequestID, Action: req.Action}, errors.Wrap(err, "check quota")
		}
		if !status.Allowed {
			return denyQuota(req, status), nil
		}
	}
	return allow(req, rate, status, metered), nil
}

func denyRate(req Request, rate ratelimit.Result) Decision {
	return Decision{
		Allowed:   false,
		Remaining: 0,
		Limit:     rate.Limit,
		ResetAt:   rate.ResetAt,
		LimitType: LimitRate,
		RequestID: req.RequestID,
		Action:    req.Action,
	}
}

func denyQuota(req Request, status quota.Status) Decision {
	return Decision{
		Allowed:   false,
		Remaining: 0,
		Limit:     status.Limit,
		ResetAt:   status.ResetAt,
		LimitType: LimitType(status.LimitType()),
		RequestID: req.RequestID,
		Action:    req.Action,
		Degraded:  status.Degraded,
	}
}

// charged reflects one committed use in a status read before the commit.
func charged(s quota.Status) quota.Status {
	if s.Unlimited() || s.Degraded {
		return s
	}
	s.Count++
	s.Remaining = max(0, s.Remaining-1)
	return s
}

// allow builds an allowed decision from the tighter of the two layers.
func allow(req Request, rate ratelimit.Result, status quota.Status, metered bool) Decision {
	d := Decision{
		Allowed:   true,
		Remaining: rate.Remaining,
		Limit:     rate.Limit,
		ResetAt:   rate.ResetAt,
		RequestID: req.RequestID,
		Action:    req.Action,
		Degraded:  rate.Degraded || status.Degraded,
	}
	if metered && !status.Unlimited() && (d.Remaining < 0 || status.Remaining < d.Remaining) {
		d.Remaining = status.Remaining
		d.Limit = status.Limit
		d.ResetAt = status.ResetAt
	}
	return d
}
