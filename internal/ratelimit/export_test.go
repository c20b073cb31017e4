package ratelimit

import "time"

// SetClock overrides the limiter clock in tests.
func SetClock(m *MemoryLimiter, now func() time.Time) { m.nowFunc = now }

// SetBucketClock overrides the bucket limiter clock in tests.
func SetBucketClock(b *BucketLimiter, now func() time.Time) { b.nowFunc = now }

// CounterCount returns the number of live window counters.
func CounterCount(m *MemoryLimiter) int {
	n := 0
	m.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
