package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// onePerSecond refills exactly one token per second, keeping arithmetic exact.
var onePerSecond = Policy{Window: 5 * time.Second, Max: 5}

func newTestLimiter(clock *fakeClock) *Limiter {
	return NewLimiter(NewMemoryStore(0), WithClock(clock.Now))
}

func TestAttempt_ExhaustsThenDenies(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()
	key := Key{Purpose: "test", Identity: "1.2.3.4"}

	for want := 4; want >= 0; want-- {
		res := l.Attempt(ctx, key, onePerSecond)
		require.True(t, res.OK)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, want, res.Remaining)
		assert.Equal(t, 0, res.RetryAfter)
		assert.Equal(t, t0.Unix()+int64(5-want), res.Reset)
	}

	res := l.Attempt(ctx, key, onePerSecond)
	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 1, res.RetryAfter)
	assert.Equal(t, t0.Unix()+5, res.Reset)
}

func TestAttempt_RefillsContinuously(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()
	key := Key{Purpose: "test", Identity: "1.2.3.4"}

	for i := 0; i < 5; i++ {
		require.True(t, l.Attempt(ctx, key, onePerSecond).OK)
	}

	clock.Advance(500 * time.Millisecond)
	res := l.Attempt(ctx, key, onePerSecond)
	assert.False(t, res.OK, "half a token is not enough")
	assert.Equal(t, 1, res.RetryAfter)

	clock.Advance(500 * time.Millisecond)
	res = l.Attempt(ctx, key, onePerSecond)
	assert.True(t, res.OK, "a full token has accrued")
	assert.Equal(t, 0, res.Remaining)
}

func TestAttempt_SaturatesAtMax(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()
	key := Key{Purpose: "test", Identity: "1.2.3.4"}

	l.Attempt(ctx, key, onePerSecond)
	clock.Advance(time.Hour)

	res := l.Attempt(ctx, key, onePerSecond)
	assert.True(t, res.OK)
	assert.Equal(t, 4, res.Remaining)
}

func TestAttempt_KeysAreIsolated(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()
	a := Key{Purpose: "api-key:attempt", Identity: "1.2.3.4"}

	for i := 0; i < 5; i++ {
		l.Attempt(ctx, a, onePerSecond)
	}
	require.False(t, l.Attempt(ctx, a, onePerSecond).OK)

	assert.True(t, l.Attempt(ctx, Key{Purpose: "api-key:attempt", Identity: "5.6.7.8"}, onePerSecond).OK)
	assert.True(t, l.Attempt(ctx, Key{Purpose: "api-key:invalid", Identity: "1.2.3.4"}, onePerSecond).OK)
	assert.True(t, l.Attempt(ctx, Key{Purpose: "api-key:attempt", Identity: "1.2.3.4", Sub: "k1"}, onePerSecond).OK)
}

func TestAttempt_InvalidPolicyDenies(t *testing.T) {
	store := NewMemoryStore(0)
	l := NewLimiter(store)
	ctx := context.Background()

	for _, p := range []Policy{{Window: time.Minute, Max: 0}, {Window: 0, Max: 5}, {Window: time.Minute, Max: -1}} {
		res := l.Attempt(ctx, Key{Purpose: "bad"}, p)
		assert.False(t, res.OK)
	}
	n, _ := store.Len(ctx)
	assert.Zero(t, n)
}

type failingStore struct {
	MemoryStore
	sets atomic.Int32
}

func (f *failingStore) Get(context.Context, string) (Bucket, bool, error) {
	return Bucket{}, false, errors.New("connection refused")
}

func (f *failingStore) Set(context.Context, string, Bucket) error {
	f.sets.Add(1)
	return errors.New("connection refused")
}

func TestAttempt_FailsOpenOnStoreErrors(t *testing.T) {
	store := &failingStore{}
	l := NewLimiter(store)
	for i := 0; i < 10; i++ {
		res := l.Attempt(context.Background(), Key{Purpose: "x", Identity: "y"}, onePerSecond)
		assert.True(t, res.OK)
		assert.Equal(t, 4, res.Remaining)
	}
	assert.Equal(t, int32(10), store.sets.Load())
}

func TestAttempt_ConcurrentCallsAreAtomic(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	policy := Policy{Window: time.Minute, Max: 50}
	key := Key{Purpose: "test", Identity: "shared"}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Attempt(context.Background(), key, policy).OK {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed.Load())
}

func TestLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()
	key := Key{Purpose: "test", Identity: "1.2.3.4"}

	for i := 0; i < 5; i++ {
		l.Attempt(ctx, key, onePerSecond)
	}
	require.NoError(t, l.Reset(ctx, key))
	assert.Equal(t, 4, l.Attempt(ctx, key, onePerSecond).Remaining)
}

func TestKeyString_NoCollisions(t *testing.T) {
	keys := []Key{
		{Purpose: "a|b", Identity: "c"},
		{Purpose: "a", Identity: "b|c"},
		{Purpose: "a", Identity: "b", Sub: "c"},
		{Purpose: "a:1", Identity: "b"},
		{Purpose: "a", Identity: "1:b"},
		{Purpose: "ab", Identity: "c"},
	}
	seen := map[string]Key{}
	for _, k := range keys {
		s := k.String()
		prev, dup := seen[s]
		assert.False(t, dup, "%v and %v both encode to %q", prev, k, s)
		seen[s] = k
	}
	assert.Equal(t, "4:view|7:1.2.3.4|0:", Key{Purpose: "view", Identity: "1.2.3.4"}.String())
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, onePerSecond.Validate())
	assert.EqualError(t, Policy{Window: time.Minute}.Validate(), "max must be positive")
	assert.EqualError(t, Policy{Max: 1}.Validate(), "window must be positive")
}

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()
	assert.Equal(t, Policy{Window: 5 * time.Minute, Max: 30}, p.Comment)
	assert.Equal(t, Policy{Window: 5 * time.Minute, Max: 30}, p.View)
	assert.Equal(t, Policy{Window: time.Minute, Max: 240}, p.MediaGet)
	assert.Equal(t, Policy{Window: time.Minute, Max: 600}, p.MediaHead)
	assert.Equal(t, Policy{Window: time.Minute, Max: 180}, p.APIKeyAttempt)
	assert.Equal(t, Policy{Window: 5 * time.Minute, Max: 60}, p.APIKeyInvalid)
	assert.Equal(t, Policy{Window: time.Minute, Max: 120}, p.APIKeyUsage)
}

func TestMetrics_RecordsWithoutProvider(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	l := NewLimiter(NewMemoryStore(0), WithMetrics(m))
	assert.True(t, l.Attempt(context.Background(), Key{Purpose: "m"}, onePerSecond).OK)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.record(context.Background(), "m", true) })
}
