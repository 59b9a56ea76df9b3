// Package ratelimit provides per-key token bucket throttling with continuous
// refill. Buckets live in a pluggable Store (in-memory or Redis) and every
// read-refill-debit sequence is serialised per key. HTTP helpers set the
// standard X-RateLimit-* response headers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Policy describes a bucket: Max tokens refilled evenly over Window.
type Policy struct {
	Window time.Duration
	Max    int
}

// Validate rejects policies that would divide by zero or never allow a request.
func (p Policy) Validate() error {
	if p.Max <= 0 {
		return errors.New("max must be positive")
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

// rate returns the refill rate in tokens per second.
func (p Policy) rate() float64 {
	return float64(p.Max) / p.Window.Seconds()
}

// Key identifies a bucket. Purpose namespaces independent budgets, Identity
// is usually a client IP and Sub an optional secondary discriminator such as
// a key ID.
type Key struct {
	Purpose  string
	Identity string
	Sub      string
}

// String renders the key with length-prefixed components so that no two
// distinct keys share an encoding.
func (k Key) String() string {
	var b strings.Builder
	for i, part := range [...]string{k.Purpose, k.Identity, k.Sub} {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Bucket is the persisted state of one key.
type Bucket struct {
	Tokens     float64       `json:"tokens"`
	LastRefill time.Time     `json:"last_refill"`
	LastSeen   time.Time     `json:"last_seen"`
	Window     time.Duration `json:"window"`
}

// idle reports whether the bucket has been untouched for more than two windows.
func (b Bucket) idle(now time.Time) bool {
	return now.Sub(b.LastSeen) > 2*b.Window
}

// Result is the outcome of one Attempt.
type Result struct {
	OK        bool
	Limit     int
	Remaining int
	// Reset is the epoch second at which the bucket will be full again.
	Reset int64
	// RetryAfter is the whole number of seconds until a token is available.
	// Zero when OK.
	RetryAfter int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMetrics attaches a decision recorder.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

const lockStripes = 64

// Limiter applies policies to keys against a Store. It is safe for
// concurrent use.
type Limiter struct {
	store   Store
	now     func() time.Time
	metrics *Metrics
	locks   [lockStripes]sync.Mutex
}

// NewLimiter creates a limiter backed by store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the backing bucket store.
func (l *Limiter) Store() Store {
	return l.store
}

func (l *Limiter) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}

// Attempt refills the bucket for key, then tries to take one token from it.
// Store failures are logged and treated as a fresh bucket, so the limiter
// fails open.
func (l *Limiter) Attempt(ctx context.Context, key Key, policy Policy) Result {
	if err := policy.Validate(); err != nil {
		slog.Error("Rate limit policy rejected", "purpose", key.Purpose, "error", err)
		l.metrics.record(ctx, key.Purpose, false)
		return Result{OK: false, Limit: max(policy.Max, 0)}
	}

	id := key.String()
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	b, found, err := l.store.Get(ctx, id)
	if err != nil {
		slog.Warn("Rate limit store read failed, failing open",
			"purpose", key.Purpose,
			"error", err,
		)
		found = false
	}
	if !found {
		b = Bucket{Tokens: float64(policy.Max), LastRefill: now}
	}

	limit := float64(policy.Max)
	if elapsed := now.Sub(b.LastRefill); elapsed > 0 {
		b.Tokens = math.Min(limit, b.Tokens+elapsed.Seconds()*policy.rate())
		b.LastRefill = now
	}
	b.Tokens = math.Min(limit, b.Tokens)
	b.LastSeen = now
	b.Window = policy.Window

	ok := b.Tokens >= 1
	if ok {
		b.Tokens--
	}

	if err := l.store.Set(ctx, id, b); err != nil {
		slog.Warn("Rate limit store write failed",
			"purpose", key.Purpose,
			"error", err,
		)
	}

	l.metrics.record(ctx, key.Purpose, ok)
	return computeResult(ok, b.Tokens, now, policy)
}

func computeResult(ok bool, tokens float64, now time.Time, policy Policy) Result {
	rate := policy.rate()
	nowSecs := float64(now.UnixNano()) / float64(time.Second)

	res := Result{
		OK:        ok,
		Limit:     policy.Max,
		Remaining: max(0, int(math.Floor(tokens))),
		Reset:     int64(math.Ceil(nowSecs + (float64(policy.Max)-tokens)/rate)),
	}
	if !ok {
		res.RetryAfter = int(math.Ceil(math.Max(0, (1-tokens)/rate)))
	}
	return res
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(ctx context.Context, key Key) error {
	id := key.String()
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	if err := l.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset %s: %w", key.Purpose, err)
	}
	return nil
}
