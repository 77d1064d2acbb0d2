// Package testutil provides test helpers: an in-memory Redis-backed store
// and a controllable clock kept in step with it.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// TestPrefix namespaces keys written through NewStore.
const TestPrefix = "test"

// NewStore starts an in-memory Redis server and returns it with a store
// connected to it. Both are closed when the test ends.
func NewStore(t testing.TB) (*miniredis.Miniredis, *kvstore.RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		// Fail fast when a test takes the server down.
		MaxRetries: -1,
	})
	store := kvstore.NewRedisStore(client, kvstore.Options{Prefix: TestPrefix})

	t.Cleanup(func() {
		store.Close()
	})
	return mr, store
}

// Key returns the raw server key for a store key.
func Key(key string) string {
	return TestPrefix + ":" + key
}

// Clock is a manual clock. When bound to a miniredis server, Advance also
// moves the server's notion of time and expires keys accordingly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
	mr  *miniredis.Miniredis
}

// NewClock returns a clock set to start. mr may be nil.
func NewClock(start time.Time, mr *miniredis.Miniredis) *Clock {
	c := &Clock{now: start, mr: mr}
	if mr != nil {
		mr.SetTime(start)
	}
	return c
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	if c.mr != nil {
		c.mr.SetTime(now)
		c.mr.FastForward(d)
	}
}

// Set jumps the clock to t, which must not be earlier than Now.
func (c *Clock) Set(t time.Time) {
	c.Advance(t.Sub(c.Now()))
}
