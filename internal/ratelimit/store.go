package ratelimit

import (
	"context"
	"time"
)

// Store persists buckets by their encoded key. Implementations must be safe
// for concurrent use; the Limiter provides per-key atomicity on top.
type Store interface {
	// Get returns the bucket for key and whether it exists.
	Get(ctx context.Context, key string) (Bucket, bool, error)

	// Set stores the bucket for key.
	Set(ctx context.Context, key string, b Bucket) error

	// Delete removes the bucket for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Sweep evicts buckets idle for more than two of their windows and
	// returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Len reports the number of stored buckets.
	Len(ctx context.Context) (int, error)
}
