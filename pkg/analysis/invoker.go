package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/cache"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrEmptyPayload is returned when an analyzer succeeds without output.
var ErrEmptyPayload = errors.New("analysis: analyzer returned no payload")

// Config holds invoker settings.
type Config struct {
	// Timeout bounds one analyzer run. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration

	// TTL is passed to the cache for fresh results. Zero selects the
	// cache's category or default TTL.
	TTL time.Duration
}

// Invoker serves analyses cache-aside.
type Invoker struct {
	cache    *cache.Manager
	analyzer Analyzer
	config   Config
	logger   zerolog.Logger
	now      func() time.Time

	inflight singleflight.Group
}

// NewInvoker creates an invoker.
func NewInvoker(c *cache.Manager, analyzer Analyzer, cfg Config, logger zerolog.Logger) *Invoker {
	if c == nil || analyzer == nil {
		panic("cache and analyzer cannot be nil")
	}
	return &Invoker{
		cache:    c,
		analyzer: analyzer,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Key returns the cache key of subject. cache.ErrInvalidIdentity is
// returned when the subject lacks identity fields.
func (i *Invoker) Key(subject Subject) (string, error) {
	return i.cache.ComputeKey(subject.Category, subject.Fields)
}

// Lookup returns the cached analysis of subject. A miss is not an error:
// the returned Result has Hit false and carries the key.
func (i *Invoker) Lookup(ctx context.Context, subject Subject) (Result, error) {
	key, err := i.Key(subject)
	if err != nil {
		return Result{}, err
	}

	entry, ok := i.cache.Get(ctx, key)
	if !ok {
		return Result{Key: key}, nil
	}

	analysisRequests.WithLabelValues(label(subject), "hit").Inc()
	return Result{
		Hit:      true,
		Payload:  entry.Payload,
		CachedAt: entry.CreatedAt,
		HitCount: entry.HitCount,
		Key:      key,
	}, nil
}

// Invoke returns the cached analysis of subject, computing and caching it
// on a miss.
func (i *Invoker) Invoke(ctx context.Context, subject Subject) (Result, error) {
	res, err := i.Lookup(ctx, subject)
	if err != nil || res.Hit {
		return res, err
	}
	return i.Fill(ctx, subject)
}

// Fill runs the analyzer for subject and caches the payload, bypassing
// the cache read. Concurrent fills of the same key share one analyzer run;
// each caller still returns as soon as its own ctx is done. Nothing is
// cached when the analyzer fails.
func (i *Invoker) Fill(ctx context.Context, subject Subject) (Result, error) {
	key, err := i.Key(subject)
	if err != nil {
		return Result{}, err
	}
	category := label(subject)

	ch := i.inflight.DoChan(key, func() (any, error) {
		return i.run(context.WithoutCancel(ctx), key, subject)
	})

	select {
	case <-ctx.Done():
		return Result{Key: key}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			analysisRequests.WithLabelValues(category, "error").Inc()
			return Result{Key: key}, r.Err
		}
		if r.Shared {
			analysisRequests.WithLabelValues(category, "coalesced").Inc()
		} else {
			analysisRequests.WithLabelValues(category, "miss").Inc()
		}
		return r.Val.(Result), nil
	}
}

func (i *Invoker) run(ctx context.Context, key string, subject Subject) (Result, error) {
	if i.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.Timeout)
		defer cancel()
	}

	start := i.now()
	payload, err := i.analyzer.Analyze(ctx, subject)
	analysisDuration.WithLabelValues(label(subject)).Observe(time.Since(start).Seconds())
	if err != nil {
		i.logger.Debug().Err(err).Str("key", key).Msg("Analysis failed, nothing cached")
		return Result{}, errors.Wrapf(err, "analyze %s", subject.Category)
	}
	if payload == nil {
		return Result{}, errors.Wrapf(ErrEmptyPayload, "analyze %s", subject.Category)
	}

	if err := i.cache.Set(ctx, key, payload, i.config.TTL); err != nil {
		return Result{}, err
	}

	i.logger.Debug().
		Str("key", key).
		Int("bytes", len(payload)).
		Msg("Analysis computed")

	return Result{
		Payload:  payload,
		CachedAt: start,
		Key:      key,
	}, nil
}

func label(subject Subject) string {
	return strings.ToLower(strings.TrimSpace(subject.Category))
}
