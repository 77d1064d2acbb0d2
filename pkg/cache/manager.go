package cache

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL bounds staleness to the weekly reference data update cadence.
const DefaultTTL = 7 * 24 * time.Hour

// Config holds cache manager settings.
type Config struct {
	// DefaultTTL applies when Set is called with ttl <= 0 and the category
	// has no TTL of its own.
	DefaultTTL time.Duration

	// CategoryTTL overrides DefaultTTL per category.
	CategoryTTL map[string]time.Duration

	// IdentityFields restricts key derivation to the listed fields of a
	// category. Categories not listed use the volatile field filter.
	IdentityFields map[string][]string

	// VolatileFields extends DefaultVolatileFields.
	VolatileFields []string

	// BookkeepingTimeout bounds the detached hit-count update.
	BookkeepingTimeout time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:         DefaultTTL,
		BookkeepingTimeout: time.Second,
	}
}

// Manager handles caching operations against the shared store.
type Manager struct {
	store   kvstore.Store
	config  Config
	deriver KeyDeriver
	sweeper *kvstore.Sweeper
	logger  zerolog.Logger
	now     func() time.Time

	// bookkeeping tracks detached hit-count writes so shutdown can drain them.
	bookkeeping sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSweeper replaces the default prefix sweeper used by Invalidate.
func WithSweeper(sw *kvstore.Sweeper) Option {
	return func(m *Manager) { m.sweeper = sw }
}

// NewManager creates a new cache manager.
func NewManager(store kvstore.Store, config Config, logger zerolog.Logger, opts ...Option) *Manager {
	if store == nil {
		panic("store cannot be nil")
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.BookkeepingTimeout <= 0 {
		config.BookkeepingTimeout = time.Second
	}

	m := &Manager{
		store:   store,
		config:  config,
		deriver: NewKeyDeriver(config.IdentityFields, config.VolatileFields...),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweeper == nil {
		m.sweeper = kvstore.NewSweeper(store, kvstore.DefaultSweepConfig(), logger)
	}
	return m
}

// ComputeKey derives the cache key for a subject using the configured
// identity strategy.
func (m *Manager) ComputeKey(category string, fields map[string]any) (string, error) {
	return m.deriver.Key(category, fields)
}

func hitsKey(key string) string { return key + ":hits" }
func seenKey(key string) string { return key + ":seen" }

// Get retrieves a cache entry by key. Any store or decoding failure is
// reported as a miss. On a hit the hit counter and last access time are
// updated in the background; the entry's expiry is never extended.
func (m *Manager) Get(ctx context.Context, key string) (*CacheEntry, bool) {
	if key == "" {
		cacheMisses.Inc()
		return nil, false
	}

	vals, err := m.store.MGet(ctx, key, hitsKey(key), seenKey(key))
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		cacheMisses.Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		return nil, false
	}

	if vals[0] == nil {
		cacheMisses.Inc()
		m.logger.Debug().Str("key", key).Msg("Cache miss")
		return nil, false
	}

	entry, err := decodeEntry(key, vals[0])
	if err != nil {
		cacheErrors.WithLabelValues("decode").Inc()
		cacheMisses.Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Undecodable cache entry, treating as miss")
		return nil, false
	}

	now := m.now()
	if entry.IsExpired(now) {
		cacheMisses.Inc()
		return nil, false
	}

	entry.HitCount = parseCount(vals[1]) + 1
	entry.LastAccessedAt = now

	cacheHits.Inc()
	m.logger.Debug().
		Str("key", key).
		Int64("hit_count", entry.HitCount).
		Dur("ttl", entry.TTL(now)).
		Msg("Cache hit")

	m.recordHit(ctx, key, entry.ExpiresAt, now)
	return entry, true
}

// recordHit updates hit bookkeeping on a detached goroutine. The caller
// never observes the outcome and cancelling ctx does not abort it.
func (m *Manager) recordHit(ctx context.Context, key string, expiresAt, now time.Time) {
	m.bookkeeping.Add(1)
	go func() {
		defer m.bookkeeping.Done()

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.BookkeepingTimeout)
		defer cancel()

		n, err := m.store.Incr(bctx, hitsKey(key))
		if err != nil {
			cacheErrors.WithLabelValues("bookkeeping").Inc()
			m.logger.Debug().Err(err).Str("key", key).Msg("Hit count update failed")
			return
		}
		if n == 1 {
			if _, err := m.store.ExpireAt(bctx, hitsKey(key), expiresAt); err != nil {
				cacheErrors.WithLabelValues("bookkeeping").Inc()
			}
		}

		ttl := expiresAt.Sub(now)
		if ttl <= 0 {
			return
		}
		seen := []byte(strconv.FormatInt(now.UnixMilli(), 10))
		if err := m.store.Set(bctx, seenKey(key), seen, ttl); err != nil {
			cacheErrors.WithLabelValues("bookkeeping").Inc()
		}
	}()
}

// Wait blocks until all background bookkeeping writes have finished.
func (m *Manager) Wait() {
	m.bookkeeping.Wait()
}

// Set stores payload under key with an absolute TTL. ttl <= 0 selects the
// category TTL or DefaultTTL. Writing an existing key overwrites it and
// resets its hit count. Store errors are logged and swallowed; only
// invalid arguments return an error.
func (m *Manager) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache key cannot be empty")
	}
	if payload == nil {
		return errors.Wrap(ErrInvalidEntry, "payload cannot be nil")
	}
	if ttl <= 0 {
		ttl = m.ttlFor(key)
	}

	now := m.now()
	entry := &CacheEntry{
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := msgpack.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("encode").Inc()
		return errors.Wrap(err, "marshal cache entry")
	}

	if err := m.store.Set(ctx, key, data, ttl); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed, continuing without cache")
		return nil
	}
	if _, err := m.store.Del(ctx, hitsKey(key), seenKey(key)); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		m.logger.Debug().Err(err).Str("key", key).Msg("Hit count reset failed")
	}

	cacheSets.Inc()
	cacheEntrySize.Observe(float64(len(data)))
	m.logger.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int("bytes", len(data)).
		Msg("Cached analysis result")

	return nil
}

func (m *Manager) ttlFor(key string) time.Duration {
	if ttl, ok := m.config.CategoryTTL[categoryOf(key)]; ok && ttl > 0 {
		return ttl
	}
	return m.config.DefaultTTL
}

// Inspect reads an entry and its bookkeeping without recording a hit.
// Unlike Get it reports store errors, and ErrCacheMiss for absent keys.
func (m *Manager) Inspect(ctx context.Context, key string) (*CacheEntry, error) {
	vals, err := m.store.MGet(ctx, key, hitsKey(key), seenKey(key))
	if err != nil {
		return nil, errors.Wrapf(err, "inspect %q", key)
	}
	if vals[0] == nil {
		return nil, ErrCacheMiss
	}
	entry, err := decodeEntry(key, vals[0])
	if err != nil {
		return nil, err
	}
	entry.HitCount = parseCount(vals[1])
	if ms := parseCount(vals[2]); ms > 0 {
		entry.LastAccessedAt = time.UnixMilli(ms)
	}
	return entry, nil
}

// Delete removes a single entry and its bookkeeping.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if _, err := m.store.Del(ctx, key, hitsKey(key), seenKey(key)); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return errors.Wrapf(err, "delete %q", key)
	}
	return nil
}

// Invalidate deletes every entry whose key starts with prefix. Prefixes
// outside the cache namespace are placed inside it ("food:" ->
// "cache:food:"). This walks the whole keyspace; do not call it on the
// request path.
func (m *Manager) Invalidate(ctx context.Context, prefix string) (int64, error) {
	prefix = strings.TrimSpace(prefix)
	if !strings.HasPrefix(prefix, KeyPrefix) {
		prefix = KeyPrefix + prefix
	}

	n, err := m.sweeper.DeletePrefix(ctx, prefix)
	cacheInvalidated.Add(float64(n))
	if err != nil {
		cacheErrors.WithLabelValues("invalidate").Inc()
		return n, errors.Wrap(err, "invalidate cache")
	}

	m.logger.Info().
		Str("prefix", prefix).
		Int64("deleted", n).
		Msg("Cache invalidated")
	return n, nil
}

// InvalidateCategory deletes all entries of one category.
func (m *Manager) InvalidateCategory(ctx context.Context, category string) (int64, error) {
	prefix, err := CategoryPrefix(category)
	if err != nil {
		return 0, err
	}
	return m.Invalidate(ctx, prefix)
}

// List returns the entry keys of one category in sorted order. Like
// Invalidate it walks the whole keyspace.
func (m *Manager) List(ctx context.Context, category string) ([]string, error) {
	prefix, err := CategoryPrefix(category)
	if err != nil {
		return nil, err
	}
	keys, err := kvstore.Keys(ctx, m.store, prefix)
	if err != nil {
		cacheErrors.WithLabelValues("list").Inc()
		return nil, errors.Wrapf(err, "list %q", category)
	}

	out := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ":hits") || strings.HasSuffix(k, ":seen") {
			continue
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func decodeEntry(key string, data []byte) (*CacheEntry, error) {
	var entry CacheEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrapf(ErrInvalidEntry, "%v", err)
	}
	if entry.Payload == nil {
		entry.Payload = []byte{}
	}
	entry.Key = key
	return &entry, nil
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
