package kvstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds every round-trip to Redis.
const DefaultOpTimeout = 250 * time.Millisecond

// DefaultScanCount is the COUNT hint passed to SCAN.
const DefaultScanCount = 500

// Options configures a RedisStore.
type Options struct {
	// Prefix namespaces every key ("scanquota" -> "scanquota:<key>").
	// Empty means no prefix.
	Prefix string

	// OpTimeout bounds each store operation. Defaults to DefaultOpTimeout.
	OpTimeout time.Duration

	// ScanCount is the COUNT hint for SCAN. Defaults to DefaultScanCount.
	ScanCount int64
}

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	scanCount int64
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a Redis client.
func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = DefaultScanCount
	}
	prefix := strings.TrimSuffix(opts.Prefix, ":")
	if prefix != "" {
		prefix += ":"
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		opTimeout: opts.OpTimeout,
		scanCount: opts.ScanCount,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opTimeout)
}

// done records metrics for op and maps the go-redis error onto the
// package sentinels.
func (s *RedisStore) done(op, key string, start time.Time, err error) error {
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		storeOps.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, redis.Nil):
		storeOps.WithLabelValues(op, "miss").Inc()
		return ErrNotFound
	default:
		storeOps.WithLabelValues(op, "error").Inc()
		return &OpError{Op: op, Key: key, Err: err}
	}
}

// OpError is a store fault of one operation. It matches ErrUnavailable and
// unwraps to the driver error.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("redis %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnavailable.
func (e *OpError) Is(target error) bool { return target == ErrUnavailable }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err := s.done("get", key, start, err); err != nil {
		return nil, err
	}
	return data, nil
}

// MGet implements Store.
func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	start := time.Now()
	vals, err := s.client.MGet(ctx, full...).Result()
	if err := s.done("mget", keys[0], start, err); err != nil {
		return nil, err
	}

	out := make([][]byte, len(keys))
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			out[i] = []byte(t)
		case []byte:
			out[i] = t
		}
	}
	return out, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := s.client.Set(ctx, s.key(key), value, ttl).Err()
	return s.done("set", key, start, err)
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err := s.done("incr", key, start, err); err != nil {
		return 0, err
	}
	return n, nil
}

// IncrWindow implements Store.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, errors.Newf("kvstore: window must be positive (got %s)", window)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := incrWindowScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err := s.done("incr_window", key, start, err); err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, &OpError{Op: "incr_window", Key: key, Err: errors.Newf("unexpected reply %v", res)}
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// IncrUntil implements Store.
func (s *RedisStore) IncrUntil(ctx context.Context, key string, at time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := incrUntilScript.Run(ctx, s.client, []string{s.key(key)}, at.UnixMilli()).Int64()
	if err := s.done("incr_until", key, start, err); err != nil {
		return 0, err
	}
	return n, nil
}

// DecrFloor implements Store.
func (s *RedisStore) DecrFloor(ctx context.Context, key string, amount int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := decrFloorScript.Run(ctx, s.client, []string{s.key(key)}, amount).Int64()
	if err := s.done("decr_floor", key, start, err); err != nil {
		return 0, err
	}
	return n, nil
}

// Expire implements Store.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	ok, err := s.client.Expire(ctx, s.key(key), ttl).Result()
	if err := s.done("expire", key, start, err); err != nil {
		return false, err
	}
	return ok, nil
}

// ExpireAt implements Store.
func (s *RedisStore) ExpireAt(ctx context.Context, key string, at time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	ok, err := s.client.ExpireAt(ctx, s.key(key), at).Result()
	if err := s.done("expireat", key, start, err); err != nil {
		return false, err
	}
	return ok, nil
}

// TTL implements Store.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	d, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err := s.done("ttl", key, start, err); err != nil {
		return 0, err
	}
	// go-redis passes the -2 (missing) and -1 (persistent) replies through unscaled.
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return NoExpiry, nil
	}
	return d, nil
}

// Del implements Store.
func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	start := time.Now()
	n, err := s.client.Del(ctx, full...).Result()
	if err := s.done("del", keys[0], start, err); err != nil {
		return 0, err
	}
	return n, nil
}

// Scan implements Store. On a cluster client every master is scanned; fn
// is never called concurrently.
func (s *RedisStore) Scan(ctx context.Context, prefix string, fn func(keys []string) error) error {
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return s.scanNode(ctx, node, prefix, func(keys []string) error {
				mu.Lock()
				defer mu.Unlock()
				return fn(keys)
			})
		})
	}
	return s.scanNode(ctx, s.client, prefix, fn)
}

func (s *RedisStore) scanNode(ctx context.Context, node redis.Cmdable, prefix string, fn func(keys []string) error) error {
	match := escapeGlob(s.key(prefix)) + "*"
	var cursor uint64
	for {
		opCtx, cancel := s.opCtx(ctx)
		start := time.Now()
		keys, next, err := node.Scan(opCtx, cursor, match, s.scanCount).Result()
		cancel()
		if err := s.done("scan", prefix, start, err); err != nil {
			return err
		}

		if len(keys) > 0 {
			stripped := make([]string, len(keys))
			for i, k := range keys {
				stripped[i] = strings.TrimPrefix(k, s.prefix)
			}
			if err := fn(stripped); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next

		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "scan interrupted")
		}
	}
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := s.client.Ping(ctx).Err()
	return s.done("ping", "", start, err)
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
