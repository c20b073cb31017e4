package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// sweepEvery is how many Allow calls pass between stale-key sweeps.
const sweepEvery = 1024

// MemoryLimiter is a fixed-window counter per (tier, key) kept in process
// memory. Each counter packs the window index (high 32 bits) and the count
// (low 32 bits) into one uint64 so a request is admitted with a single
// compare-and-swap.
type MemoryLimiter struct {
	limits   Limits
	counters sync.Map // string -> *atomic.Uint64
	calls    atomic.Uint64

	nowFunc func() time.Time
}

// NewMemoryLimiter creates an in-memory fixed-window limiter.
func NewMemoryLimiter(limits Limits) *MemoryLimiter {
	return &MemoryLimiter{limits: limits, nowFunc: time.Now}
}

func (m *MemoryLimiter) windowIndex(now time.Time) uint64 {
	return uint64(now.UnixNano()/int64(m.limits.window())) & 0xffffffff
}

// Allow implements Limiter. It never returns an error.
func (m *MemoryLimiter) Allow(_ context.Context, tier Tier, key string) (bool, error) {
	limit := m.limits.For(tier)
	if limit <= 0 {
		return true, nil
	}

	now := m.nowFunc()
	idx := m.windowIndex(now)
	if m.calls.Add(1)%sweepEvery == 0 {
		m.sweep(idx)
	}

	v, ok := m.counters.Load(compositeKey(tier, key))
	if !ok {
		v, _ = m.counters.LoadOrStore(compositeKey(tier, key), new(atomic.Uint64))
	}
	c := v.(*atomic.Uint64)

	for {
		old := c.Load()
		var next uint64
		if old>>32 != idx {
			next = idx<<32 | 1
		} else {
			if old&0xffffffff >= uint64(limit) {
				return false, nil
			}
			next = old + 1
		}
		if c.CompareAndSwap(old, next) {
			return true, nil
		}
	}
}

// sweep drops counters whose window has passed.
func (m *MemoryLimiter) sweep(idx uint64) {
	m.counters.Range(func(k, v any) bool {
		if v.(*atomic.Uint64).Load()>>32 != idx {
			m.counters.Delete(k)
		}
		return true
	})
}
