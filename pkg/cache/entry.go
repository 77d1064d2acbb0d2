package cache

import (
	"time"
)

// CacheEntry represents a cached analysis result.
type CacheEntry struct {
	// Key is the content-addressed cache key.
	Key string `msgpack:"-"`

	// Payload is the serialized analysis result, opaque to the cache.
	Payload []byte `msgpack:"p"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `msgpack:"c"`

	// ExpiresAt is the absolute expiry fixed at write time.
	ExpiresAt time.Time `msgpack:"e"`

	// HitCount is the number of reads served by this entry, this one included.
	HitCount int64 `msgpack:"-"`

	// LastAccessedAt is the time of the most recent read.
	LastAccessedAt time.Time `msgpack:"-"`
}

// IsExpired returns true if the entry has expired at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was written.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
