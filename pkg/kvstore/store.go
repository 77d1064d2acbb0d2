// Package kvstore is the typed client for the shared key/value store that
// backs the cache, the quota ledger and the rate limiter.
//
// All mutable state of the core lives behind Store. Implementations must
// provide atomic increment and atomic conditional updates; callers never
// coordinate through in-process locks.
package kvstore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned by Get and TTL when the key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrUnavailable marks every store fault (timeout, connection loss,
	// protocol error). Test with errors.Is.
	ErrUnavailable = errors.New("kvstore: store unavailable")
)

// NoExpiry is returned by TTL for keys without an expiry.
const NoExpiry time.Duration = -1

// Store is the set of primitives the core needs from the backing store.
type Store interface {
	// Get returns the value of key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// MGet returns one value per key, nil where the key is absent.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// Set stores value under key. A ttl of zero keeps the key forever.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr atomically increments key, creating it at 0 first if absent.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrWindow atomically increments key and, when the key was just
	// created (or has lost its expiry), sets its expiry to window.
	// It returns the new count and the remaining time to live.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// IncrUntil atomically increments key and, when the key was just
	// created (or has lost its expiry), makes it expire at at.
	IncrUntil(ctx context.Context, key string, at time.Time) (int64, error)

	// DecrFloor atomically lowers the integer at key by amount, never below
	// zero, preserving the key's expiry. Absent keys stay absent and
	// report 0.
	DecrFloor(ctx context.Context, key string, amount int64) (int64, error)

	// Expire sets a relative expiry. It reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ExpireAt sets an absolute expiry. It reports whether the key existed.
	ExpireAt(ctx context.Context, key string, at time.Time) (bool, error)

	// TTL returns the remaining time to live, NoExpiry or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Scan calls fn with successive batches of keys starting with prefix.
	// It walks the whole keyspace and is meant for administrative use only.
	Scan(ctx context.Context, prefix string, fn func(keys []string) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// Keys collects all keys matching prefix.
func Keys(ctx context.Context, s Store, prefix string) ([]string, error) {
	var out []string
	err := s.Scan(ctx, prefix, func(keys []string) error {
		out = append(out, keys...)
		return nil
	})
	return out, err
}

// IsUnavailable reports whether err is a store fault.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
