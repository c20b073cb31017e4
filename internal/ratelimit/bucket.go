package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// BucketLimiter is a token bucket per (tier, key). Each bucket refills at
// limit tokens per window and bursts up to limit, which smooths the edge
// spikes a fixed window allows.
type BucketLimiter struct {
	limits  Limits
	buckets sync.Map // string -> *bucket
	calls   atomic.Uint64

	nowFunc func() time.Time
}

// NewBucketLimiter creates an in-memory token bucket limiter.
func NewBucketLimiter(limits Limits) *BucketLimiter {
	return &BucketLimiter{limits: limits, nowFunc: time.Now}
}

// Allow implements Limiter. It never returns an error.
func (b *BucketLimiter) Allow(_ context.Context, tier Tier, key string) (bool, error) {
	limit := b.limits.For(tier)
	if limit <= 0 {
		return true, nil
	}

	now := b.nowFunc()
	if b.calls.Add(1)%sweepEvery == 0 {
		b.sweep(now)
	}

	k := compositeKey(tier, key)
	v, ok := b.buckets.Load(k)
	if !ok {
		every := b.limits.window() / time.Duration(limit)
		v, _ = b.buckets.LoadOrStore(k, &bucket{lim: rate.NewLimiter(rate.Every(every), limit)})
	}
	bk := v.(*bucket)
	bk.lastSeen.Store(now.UnixNano())
	return bk.lim.AllowN(now, 1), nil
}

// sweep drops buckets idle for a full window; an idle bucket is full again,
// so recreating it later is equivalent.
func (b *BucketLimiter) sweep(now time.Time) {
	cutoff := now.Add(-b.limits.window()).UnixNano()
	b.buckets.Range(func(k, v any) bool {
		if v.(*bucket).lastSeen.Load() < cutoff {
			b.buckets.Delete(k)
		}
		return true
	})
}
