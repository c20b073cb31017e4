// Package resilience provides the per-handle failure guard, upstream error
// classification, and retry with backoff for external calls.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState represents the state of a failure guard.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the key is blocked until its cooldown elapses.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// GuardStatus is a point-in-time view of one key's guard.
type GuardStatus struct {
	State        CircuitState
	Failures     int
	BlockedUntil time.Time
	// Opened is set by RecordFailure when that failure moved the key from
	// closed to open.
	Opened bool
}

// IsOpen reports whether requests for the key should be rejected.
func (s GuardStatus) IsOpen() bool { return s.State == CircuitOpen }

// FailureGuard tracks consecutive reply-generation failures per key and
// blocks a key for a cooldown once the failures reach a threshold. There is
// no half-open trial request: once the cooldown elapses the next request is a fresh
// attempt. A single success clears the key.
type FailureGuard interface {
	Check(ctx context.Context, key string) (GuardStatus, error)
	RecordFailure(ctx context.Context, key string) (GuardStatus, error)
	RecordSuccess(ctx context.Context, key string) error
}

// GuardConfig controls failure guard behavior.
type GuardConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// guard: the failure that reaches it opens, not the one after. Default: 3.
	FailureThreshold int

	// Cooldown is how long an open key stays blocked. Default: 60s.
	Cooldown time.Duration
}

// DefaultGuardConfig returns sensible defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

type guardEntry struct {
	failures     atomic.Int64
	blockedUntil atomic.Int64 // unix nanos, 0 when never opened
}

// MemoryGuard is an in-process FailureGuard for single-instance deployments.
// All state changes are lock-free atomic operations on per-key counters.
type MemoryGuard struct {
	cfg     GuardConfig
	entries sync.Map // string -> *guardEntry

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemoryGuard creates an in-memory failure guard.
func NewMemoryGuard(cfg GuardConfig) *MemoryGuard {
	return &MemoryGuard{
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

func (g *MemoryGuard) entry(key string) *guardEntry {
	if e, ok := g.entries.Load(key); ok {
		return e.(*guardEntry)
	}
	e, _ := g.entries.LoadOrStore(key, &guardEntry{})
	return e.(*guardEntry)
}

func (g *MemoryGuard) status(e *guardEntry, now time.Time) GuardStatus {
	st := GuardStatus{Failures: int(e.failures.Load())}
	if until := e.blockedUntil.Load(); until > now.UnixNano() {
		st.State = CircuitOpen
		st.BlockedUntil = time.Unix(0, until)
	}
	return st
}

// Check returns the key's current state without mutating it.
func (g *MemoryGuard) Check(_ context.Context, key string) (GuardStatus, error) {
	e, ok := g.entries.Load(key)
	if !ok {
		return GuardStatus{}, nil
	}
	return g.status(e.(*guardEntry), g.nowFunc()), nil
}

// RecordFailure increments the key's consecutive failure count and opens the
// guard when the count reaches the threshold. The count is kept while the
// guard is open, so the first failure after the cooldown reopens it.
func (g *MemoryGuard) RecordFailure(_ context.Context, key string) (GuardStatus, error) {
	e := g.entry(key)
	now := g.nowFunc()
	n := e.failures.Add(1)

	opened := false
	if n >= int64(g.cfg.FailureThreshold) {
		until := now.Add(g.cfg.Cooldown).UnixNano()
		for {
			old := e.blockedUntil.Load()
			if old > now.UnixNano() {
				break // already open
			}
			if e.blockedUntil.CompareAndSwap(old, until) {
				opened = true
				break
			}
		}
	}

	st := g.status(e, now)
	st.Opened = opened
	return st, nil
}

// RecordSuccess resets the key's failure count and closes the guard.
func (g *MemoryGuard) RecordSuccess(_ context.Context, key string) error {
	e, ok := g.entries.Load(key)
	if !ok {
		return nil
	}
	ge := e.(*guardEntry)
	ge.failures.Store(0)
	ge.blockedUntil.Store(0)
	return nil
}

// Failures returns the key's consecutive failure count.
func (g *MemoryGuard) Failures(key string) int {
	e, ok := g.entries.Load(key)
	if !ok {
		return 0
	}
	return int(e.(*guardEntry).failures.Load())
}
