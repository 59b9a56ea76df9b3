package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bucketSeenAt(seen time.Time, window time.Duration) Bucket {
	return Bucket{Tokens: 1, LastRefill: seen, LastSeen: seen, Window: window}
}

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", bucketSeenAt(t0, time.Minute)))
	b, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, b.Window)

	require.NoError(t, s.Delete(ctx, "k"))
	n, _ := s.Len(ctx)
	assert.Zero(t, n)
}

func TestMemoryStore_SweepUsesPerBucketWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.Set(ctx, "short", bucketSeenAt(t0, time.Minute)))
	require.NoError(t, s.Set(ctx, "long", bucketSeenAt(t0, time.Hour)))

	n, err := s.Sweep(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "exactly two windows is not yet idle")

	n, err = s.Sweep(ctx, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := s.Get(ctx, "long")
	assert.True(t, ok)
	_, ok, _ = s.Get(ctx, "short")
	assert.False(t, ok)
}

func TestMemoryStore_HighWaterMarkTriggersSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("old-%d", i), bucketSeenAt(t0, time.Minute)))
	}
	n, _ := s.Len(ctx)
	require.Equal(t, 3, n)

	require.NoError(t, s.Set(ctx, "fresh", bucketSeenAt(t0.Add(time.Hour), time.Minute)))
	n, _ = s.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_BelowHighWaterKeepsIdleBuckets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	require.NoError(t, s.Set(ctx, "old", bucketSeenAt(t0, time.Minute)))
	require.NoError(t, s.Set(ctx, "fresh", bucketSeenAt(t0.Add(time.Hour), time.Minute)))

	n, _ := s.Len(ctx)
	assert.Equal(t, 2, n)
}

func TestSweeper(t *testing.T) {
	_, err := NewSweeper(NewMemoryStore(0), "not a schedule")
	assert.Error(t, err)

	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Set(ctx, "old", bucketSeenAt(t0, time.Minute)))

	sw, err := NewSweeper(store, "@every 1m")
	require.NoError(t, err)
	sw.now = func() time.Time { return t0.Add(time.Hour) }

	assert.Equal(t, 1, sw.RunOnce(ctx))
	assert.Equal(t, 0, sw.RunOnce(ctx))

	sw.Start()
	assert.NoError(t, sw.Stop(ctx))
}
