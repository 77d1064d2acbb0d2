package quota

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/scan-quota/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func setupLedger(t *testing.T) (*Ledger, *miniredis.Miniredis, *testutil.Clock) {
	t.Helper()
	mr, store := testutil.NewStore(t)
	clock := testutil.NewClock(testNow, mr)
	ledger, err := NewLedger(store, DefaultConfig(), zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	return ledger, mr, clock
}

func setCount(t *testing.T, mr *miniredis.Miniredis, userID, action, periodKey string, n int) {
	t.Helper()
	require.NoError(t, mr.Set(testutil.Key(CounterKey(userID, action, periodKey)), strconv.Itoa(n)))
}

func TestNewLedger_InvalidConfig(t *testing.T) {
	_, store := testutil.NewStore(t)

	cfg := DefaultConfig()
	cfg.Limits["free"]["unknown"] = ActionLimits{Monthly: 1}

	_, err := NewLedger(store, cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrPeriodMisconfiguration)

	_, err = NewLedger(nil, DefaultConfig(), zerolog.Nop())
	assert.Error(t, err)
}

func TestLedger_PeriodKeyFor(t *testing.T) {
	ledger, _, _ := setupLedger(t)

	key, err := ledger.PeriodKeyFor("ai-question", testNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", key)

	key, err = ledger.PeriodKeyFor("scan", testNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-10", key)

	_, err = ledger.PeriodKeyFor("search", testNow)
	assert.ErrorIs(t, err, ErrPeriodMisconfiguration)
}

func TestLedger_Check_FreeTierExhausted(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	setCount(t, mr, "u1", "scan", "2026-10", 25)

	status, err := ledger.Check(context.Background(), "u1", "free", "scan")
	require.NoError(t, err)

	assert.False(t, status.Allowed)
	assert.Equal(t, int64(0), status.Remaining)
	assert.Equal(t, int64(25), status.Limit)
	assert.Equal(t, int64(25), status.Count)
	assert.Equal(t, "monthly-quota", status.LimitType())
	assert.True(t, status.ResetAt.Equal(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)))
}

func TestLedger_Check_PremiumUnlimited(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	setCount(t, mr, "u1", "scan", "2026-10", 10000)

	// The store is never read for unlimited windows.
	mr.SetError("ERR store down")

	status, err := ledger.Check(context.Background(), "u1", "premium", "scan")
	require.NoError(t, err)

	assert.True(t, status.Allowed)
	assert.Equal(t, Unlimited, status.Remaining)
	assert.Equal(t, Unlimited, status.Limit)
	assert.False(t, status.Degraded)
	assert.Equal(t, "", status.LimitType())
}

func TestLedger_Check_Remaining(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()

	for count := 0; count <= 30; count++ {
		setCount(t, mr, "u1", "scan", "2026-10", count)

		status, err := ledger.Check(ctx, "u1", "free", "scan")
		require.NoError(t, err)

		assert.Equal(t, max(0, 25-int64(count)), status.Remaining, "count=%d", count)
		assert.Equal(t, count < 25, status.Allowed, "count=%d", count)
	}
}

func TestLedger_Check_UnknownTier(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	setCount(t, mr, "u1", "scan", "2026-10", 25)

	status, err := ledger.Check(context.Background(), "u1", "platinum", "scan")
	require.NoError(t, err)
	assert.Equal(t, "free", status.Tier)
	assert.False(t, status.Allowed)

	_, store := testutil.NewStore(t)
	cfg := DefaultConfig()
	cfg.DefaultTier = ""
	strict, err := NewLedger(store, cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = strict.Check(context.Background(), "u1", "platinum", "scan")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestLedger_Check_Errors(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.Check(ctx, "u1", "free", "search")
	assert.ErrorIs(t, err, ErrPeriodMisconfiguration)

	_, err = ledger.Check(ctx, "", "free", "scan")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestLedger_Check_StoreDown(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	setCount(t, mr, "u1", "scan", "2026-10", 25)
	mr.SetError("ERR store down")

	status, err := ledger.Check(context.Background(), "u1", "free", "scan")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.True(t, status.Degraded)
	assert.Equal(t, int64(25), status.Limit)
}

func TestLedger_Increment(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := ledger.Increment(ctx, "u1", "scan")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	key := testutil.Key(CounterKey("u1", "scan", "2026-10"))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	// Expiry is aligned to the end of the month.
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, end.Sub(testNow), mr.TTL(key))
}

func TestLedger_Increment_ExpiryNotMoved(t *testing.T) {
	ledger, mr, clock := setupLedger(t)
	ctx := context.Background()
	key := testutil.Key(CounterKey("u1", "scan", "2026-10"))

	_, err := ledger.Increment(ctx, "u1", "scan")
	require.NoError(t, err)

	// Another writer changed the expiry; later increments must not touch it.
	mr.SetTTL(key, time.Hour)
	clock.Advance(time.Minute)

	_, err = ledger.Increment(ctx, "u1", "scan")
	require.NoError(t, err)
	assert.Equal(t, 59*time.Minute, mr.TTL(key))
}

func TestLedger_Increment_RestoresLostExpiry(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()

	setCount(t, mr, "u1", "ai-question", "2026-10-15", 2)
	setCount(t, mr, "u1", "ai-question", "2026-10", 9)

	_, err := ledger.Increment(ctx, "u1", "ai-question")
	require.NoError(t, err)

	daily := testutil.Key(CounterKey("u1", "ai-question", "2026-10-15"))
	monthly := testutil.Key(CounterKey("u1", "ai-question", "2026-10"))
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC).Sub(testNow), mr.TTL(daily))
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Sub(testNow), mr.TTL(monthly))
}

func TestLedger_Increment_StoreDown(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	mr.SetError("ERR store down")

	n, err := ledger.Increment(context.Background(), "u1", "scan")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestLedger_Increment_Concurrent(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Increment(ctx, "u1", "export")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := mr.Get(testutil.Key(CounterKey("u1", "export", "2026-10")))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), got)
}

func TestLedger_DailyQuotaExhausted(t *testing.T) {
	ledger, mr, clock := setupLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		status, err := ledger.Check(ctx, "u1", "free", "ai-question")
		require.NoError(t, err)
		require.True(t, status.Allowed, "call %d", i+1)
		_, err = ledger.Increment(ctx, "u1", "ai-question")
		require.NoError(t, err)
	}

	status, err := ledger.Check(ctx, "u1", "free", "ai-question")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, int64(0), status.Remaining)
	assert.Equal(t, "daily-quota", status.LimitType())
	assert.True(t, status.ResetAt.Equal(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)))

	// The monthly window is untouched by the daily denial.
	require.Len(t, status.Windows, 2)
	assert.Equal(t, int64(3), status.Windows[1].Count)
	assert.True(t, status.Windows[1].Allowed)

	clock.Set(time.Date(2026, 10, 16, 0, 0, 1, 0, time.UTC))
	assert.False(t, mr.Exists(testutil.Key(CounterKey("u1", "ai-question", "2026-10-15"))), "daily counter must expire at the day boundary")

	status, err = ledger.Check(ctx, "u1", "free", "ai-question")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, int64(0), status.Windows[0].Count)
	assert.Equal(t, int64(3), status.Windows[1].Count)

	_, err = ledger.Increment(ctx, "u1", "ai-question")
	require.NoError(t, err)

	got, err := mr.Get(testutil.Key(CounterKey("u1", "ai-question", "2026-10")))
	require.NoError(t, err)
	assert.Equal(t, "4", got)
}

func TestLedger_MonthlyBindsOverDaily(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	setCount(t, mr, "u1", "ai-question", "2026-10-15", 3)
	setCount(t, mr, "u1", "ai-question", "2026-10", 60)

	status, err := ledger.Check(context.Background(), "u1", "free", "ai-question")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, "monthly-quota", status.LimitType(), "the window resetting last binds")
}

func TestLedger_PeriodIsolation(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()

	// Exhausting the monthly window leaves the daily window's counter alone.
	setCount(t, mr, "u1", "ai-question", "2026-10", 60)

	status, err := ledger.Check(ctx, "u1", "free", "ai-question")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, int64(0), status.Windows[0].Count)
	assert.Equal(t, int64(3), status.Windows[0].Remaining)

	// Other actions and users are unaffected.
	status, err = ledger.Check(ctx, "u1", "free", "scan")
	require.NoError(t, err)
	assert.True(t, status.Allowed)

	status, err = ledger.Check(ctx, "u2", "free", "ai-question")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestLedger_MonthlyRollover(t *testing.T) {
	ledger, mr, clock := setupLedger(t)
	ctx := context.Background()
	key := testutil.Key(CounterKey("u1", "scan", "2026-10"))

	_, err := ledger.Increment(ctx, "u1", "scan")
	require.NoError(t, err)

	nextMonth := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, nextMonth.Sub(testNow), mr.TTL(key))

	clock.Set(nextMonth.Add(-time.Second))
	assert.True(t, mr.Exists(key))

	clock.Set(nextMonth)
	assert.False(t, mr.Exists(key))

	status, err := ledger.Check(ctx, "u1", "free", "scan")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Count)
	assert.Equal(t, int64(25), status.Remaining)
}

func TestLedger_Reset(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()
	setCount(t, mr, "u1", "ai-question", "2026-10-15", 3)
	setCount(t, mr, "u1", "ai-question", "2026-10", 10)
	setCount(t, mr, "u1", "ai-question", "2026-09", 40)

	require.NoError(t, ledger.Reset(ctx, "u1", "ai-question"))

	status, err := ledger.Check(ctx, "u1", "free", "ai-question")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, int64(3), status.Remaining)
	assert.True(t, mr.Exists(testutil.Key(CounterKey("u1", "ai-question", "2026-09"))), "past periods are left to expire")

	assert.ErrorIs(t, ledger.Reset(ctx, "u1", "search"), ErrPeriodMisconfiguration)

	mr.SetError("ERR store down")
	assert.Error(t, ledger.Reset(ctx, "u1", "scan"))
}

func TestLedger_AddBonus(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()
	key := testutil.Key(CounterKey("u1", "scan", "2026-10"))

	for i := 0; i < 25; i++ {
		_, err := ledger.Increment(ctx, "u1", "scan")
		require.NoError(t, err)
	}
	ttl := mr.TTL(key)

	require.NoError(t, ledger.AddBonus(ctx, "u1", "scan", 10))
	status, err := ledger.Check(ctx, "u1", "free", "scan")
	require.NoError(t, err)
	assert.Equal(t, int64(15), status.Count)
	assert.Equal(t, int64(10), status.Remaining)
	assert.Equal(t, ttl, mr.TTL(key), "bonus keeps the period expiry")

	require.NoError(t, ledger.AddBonus(ctx, "u1", "scan", 100))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "0", got, "bonus floors at zero")

	require.NoError(t, ledger.AddBonus(ctx, "u2", "scan", 5))
	assert.False(t, mr.Exists(testutil.Key(CounterKey("u2", "scan", "2026-10"))), "bonus never creates counters")

	assert.ErrorIs(t, ledger.AddBonus(ctx, "u1", "scan", 0), ErrInvalidAmount)
	assert.ErrorIs(t, ledger.AddBonus(ctx, "u1", "scan", -1), ErrInvalidAmount)
}

func TestLedger_AddBonus_Concurrent(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()
	setCount(t, mr, "u1", "export", "2026-10", 5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ledger.AddBonus(ctx, "u1", "export", 1))
		}()
	}
	wg.Wait()

	got, err := mr.Get(testutil.Key(CounterKey("u1", "export", "2026-10")))
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestLedger_Usage(t *testing.T) {
	ledger, mr, _ := setupLedger(t)
	ctx := context.Background()
	setCount(t, mr, "u1", "scan", "2026-10", 7)
	setCount(t, mr, "u1", "ai-question", "2026-10-15", 3)

	usage, err := ledger.Usage(ctx, "u1", "free")
	require.NoError(t, err)
	require.Len(t, usage, 4)

	byAction := make(map[string]Status)
	for _, s := range usage {
		byAction[s.Action] = s
	}
	assert.Equal(t, int64(7), byAction["scan"].Count)
	assert.Equal(t, int64(18), byAction["scan"].Remaining)
	assert.False(t, byAction["ai-question"].Allowed)
	assert.Equal(t, int64(0), byAction["export"].Count)

	premium, err := ledger.Usage(ctx, "u1", "premium")
	require.NoError(t, err)
	for _, s := range premium {
		assert.Equal(t, Unlimited, s.Remaining)
		if s.Action == "scan" {
			assert.Equal(t, int64(7), s.Count, "usage reads unlimited windows")
		}
	}

	mr.SetError("ERR store down")
	_, err = ledger.Usage(ctx, "u1", "free")
	assert.Error(t, err)
}
