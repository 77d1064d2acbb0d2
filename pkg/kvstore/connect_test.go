package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(ctx context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestConnect_SucceedsAfterRetries(t *testing.T) {
	p := &flakyPinger{failures: 2}
	err := Connect(context.Background(), p, fastRetry(5), zerolog.Nop())
	assert.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestConnect_Exhausted(t *testing.T) {
	p := &flakyPinger{failures: 10}
	err := Connect(context.Background(), p, fastRetry(3), zerolog.Nop())
	assert.ErrorIs(t, err, ErrConnectExhausted)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, p.calls)
}

func TestConnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &flakyPinger{failures: 10}
	cfg := fastRetry(5)
	cfg.InitialBackoff = time.Second
	err := Connect(ctx, p, cfg, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
}
