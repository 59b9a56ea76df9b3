package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHighWaterMark is the bucket count above which MemoryStore sweeps on write.
const DefaultHighWaterMark = 10000

// MemoryStore keeps buckets in process memory. When the number of buckets
// exceeds the high-water mark, the next Set evicts every idle bucket.
type MemoryStore struct {
	highWater int

	mu      sync.RWMutex
	buckets map[string]Bucket
}

// NewMemoryStore creates an in-memory store. A non-positive highWater uses
// DefaultHighWaterMark.
func NewMemoryStore(highWater int) *MemoryStore {
	if highWater <= 0 {
		highWater = DefaultHighWaterMark
	}
	return &MemoryStore{
		highWater: highWater,
		buckets:   make(map[string]Bucket),
	}
}

// Get returns the bucket for key.
func (m *MemoryStore) Get(_ context.Context, key string) (Bucket, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[key]
	return b, ok, nil
}

// Set stores the bucket and sweeps when the store has grown past its mark.
// The bucket's LastSeen is used as the sweep reference time.
func (m *MemoryStore) Set(_ context.Context, key string, b Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[key] = b
	if len(m.buckets) > m.highWater {
		if n := m.sweepLocked(b.LastSeen); n > 0 {
			slog.Debug("Evicted idle rate limit buckets", "count", n, "remaining", len(m.buckets))
		}
	}
	return nil
}

// Delete removes the bucket for key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
	return nil
}

// Sweep evicts idle buckets.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(now), nil
}

func (m *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, b := range m.buckets {
		if b.idle(now) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of buckets held.
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets), nil
}
