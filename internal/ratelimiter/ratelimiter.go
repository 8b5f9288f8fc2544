package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter applies an independent token bucket to every key.
//
// The watch bridge uses one key per folder path so that a burst of external
// changes inside one folder cannot starve refreshes of its siblings. Buckets
// that have not been used for longer than the idle period are dropped on the
// next call to Sweep.
//
// Thread safety:
// All methods are safe for concurrent use.
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a KeyedLimiter allowing perSecond events per key with the
// given burst.
//
// Special cases:
//   - perSecond = 0: no limiting at all
//   - burst = 0: burst defaults to 1
func New(perSecond float64, burst int) *KeyedLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:   limit,
		burst:   burst,
		idle:    time.Minute,
		buckets: make(map[string]*bucket),
	}
}

func (k *KeyedLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.lastUsed = time.Now()
	return b.limiter
}

// Allow reports whether an event for key may proceed now, consuming a token
// if so.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.get(key).Allow()
}

// Wait blocks until an event for key may proceed or ctx is done.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

// Delay returns how long the caller would have to wait for key without
// consuming a token.
func (k *KeyedLimiter) Delay(key string) time.Duration {
	r := k.get(key).Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}

// Forget drops the bucket for key.
func (k *KeyedLimiter) Forget(key string) {
	k.mu.Lock()
	delete(k.buckets, key)
	k.mu.Unlock()
}

// Sweep removes buckets idle for longer than the idle period and returns how
// many were removed.
func (k *KeyedLimiter) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := time.Now().Add(-k.idle)
	removed := 0
	for key, b := range k.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
