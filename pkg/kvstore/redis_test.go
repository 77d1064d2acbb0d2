package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, prefix string) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, Options{Prefix: prefix})
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestNewRedisStore_Panic(t *testing.T) {
	assert.Panics(t, func() { NewRedisStore(nil, Options{}) })
}

func TestRedisStore_GetSet(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Keys are namespaced by the prefix.
	assert.True(t, mr.Exists("test:k"))
	assert.False(t, mr.Exists("k"))
}

func TestRedisStore_MGet(t *testing.T) {
	_, store := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "c", []byte("3"), 0))

	vals, err := store.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, []byte("1"), vals[0])
	assert.Nil(t, vals[1])
	assert.Equal(t, []byte("3"), vals[2])

	vals, err = store.MGet(ctx)
	require.NoError(t, err)
	assert.Nil(t, vals)
}

func TestRedisStore_IncrConcurrent(t *testing.T) {
	_, store := newTestStore(t, "test")
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Incr(ctx, "counter")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(workers), string(got))
}

func TestRedisStore_IncrWindow(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()

	n, ttl, err := store.IncrWindow(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(20 * time.Second)

	n, ttl, err = store.IncrWindow(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 40*time.Second, ttl, "later increments must not extend the window")

	mr.FastForward(41 * time.Second)

	n, _, err = store.IncrWindow(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "window restarts after expiry")
}

func TestRedisStore_IncrWindow_RestoresMissingTTL(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()

	require.NoError(t, mr.Set("test:w", "5"))

	n, ttl, err := store.IncrWindow(ctx, "w", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, 30*time.Second, ttl)
	assert.Equal(t, 30*time.Second, mr.TTL("test:w"))
}

func TestRedisStore_IncrUntil(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	mr.SetTime(now)
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	n, err := store.IncrUntil(ctx, "q", end)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, end.Sub(now), mr.TTL("test:q"))

	// An existing expiry is kept.
	mr.SetTTL("test:q", time.Hour)
	n, err = store.IncrUntil(ctx, "q", end)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Hour, mr.TTL("test:q"))

	// A counter that lost its expiry is re-armed.
	require.NoError(t, mr.Set("test:lost", "4"))
	n, err = store.IncrUntil(ctx, "lost", end)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, end.Sub(now), mr.TTL("test:lost"))
}

func TestRedisStore_IncrWindow_InvalidWindow(t *testing.T) {
	_, store := newTestStore(t, "test")
	_, _, err := store.IncrWindow(context.Background(), "w", 0)
	assert.Error(t, err)
}

func TestRedisStore_DecrFloor(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()

	n, err := store.DecrFloor(ctx, "absent", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.False(t, mr.Exists("test:absent"), "missing keys must not be created")

	require.NoError(t, store.Set(ctx, "c", []byte("10"), time.Hour))

	n, err = store.DecrFloor(ctx, "c", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = store.DecrFloor(ctx, "c", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	ttl := mr.TTL("test:c")
	assert.Greater(t, ttl, 59*time.Minute, "expiry must be preserved")
}

func TestRedisStore_ExpireAndTTL(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()

	_, err := store.TTL(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Expire(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	ttl, err := store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, NoExpiry, ttl)

	ok, err = store.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ttl, err = store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	mr.SetTime(now)
	ok, err = store.ExpireAt(ctx, "k", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, mr.TTL("test:k"))
}

func TestRedisStore_DelAndScan(t *testing.T) {
	_, store := newTestStore(t, "test")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("cache:food:%02d", i), []byte("x"), 0))
	}
	require.NoError(t, store.Set(ctx, "cache:cosmetics:01", []byte("x"), 0))
	require.NoError(t, store.Set(ctx, "cache:food*weird", []byte("x"), 0))

	keys, err := Keys(ctx, store, "cache:food:")
	require.NoError(t, err)
	assert.Len(t, keys, 20)
	sort.Strings(keys)
	assert.Equal(t, "cache:food:00", keys[0], "prefix must be stripped from scanned keys")

	// Glob characters in the prefix are matched literally.
	keys, err = Keys(ctx, store, "cache:food*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:food*weird"}, keys)

	n, err := store.Del(ctx, "cache:cosmetics:01", "cache:nothing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Del(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, store := newTestStore(t, "test")
	ctx := context.Background()

	mr.SetError("ERR store down")

	_, err := store.Get(ctx, "k")
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get", opErr.Op)
	assert.Equal(t, "k", opErr.Key)

	_, err = store.Incr(ctx, "k")
	assert.True(t, IsUnavailable(err))

	assert.True(t, IsUnavailable(store.Ping(ctx)))

	mr.SetError("")
	assert.NoError(t, store.Ping(ctx))
}

func TestRedisStore_ClosedServer(t *testing.T) {
	mr, store := newTestStore(t, "test")
	mr.Close()

	err := store.Set(context.Background(), "k", []byte("v"), time.Minute)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cache:food:", "cache:food:"},
		{"a*b", `a\*b`},
		{"a?b[c]", `a\?b\[c\]`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeGlob(tt.in), tt.in)
	}
}
