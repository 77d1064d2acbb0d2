package kvstore

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrConnectExhausted is returned when every connection attempt failed.
var ErrConnectExhausted = errors.New("kvstore: connect attempts exhausted")

// RetryConfig controls how Connect retries the initial ping.
type RetryConfig struct {
	// MaxAttempts is the total number of pings, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied after every failed attempt.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the startup retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Pinger is the part of Store that Connect needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connect pings the store until it answers, backing off exponentially with
// ±20% jitter between attempts. It is used once at startup; request paths
// never retry and fail open instead.
func Connect(ctx context.Context, store Pinger, cfg RetryConfig, logger zerolog.Logger) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := store.Ping(ctx)
		if err == nil {
			storeConnectAttempts.WithLabelValues("ok").Inc()
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Store reachable after retry")
			}
			return nil
		}

		storeConnectAttempts.WithLabelValues("error").Inc()
		lastErr = err

		if attempt >= cfg.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Store not reachable, retrying")

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "connect cancelled")
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	logger.Error().
		Err(lastErr).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Store connect attempts exhausted")

	return errors.WithSecondaryError(
		errors.Wrapf(ErrConnectExhausted, "after %d attempts (last: %v)", cfg.MaxAttempts, lastErr),
		lastErr)
}
