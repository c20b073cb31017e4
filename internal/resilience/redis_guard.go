package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// failureCounterTTL bounds how long an idle key's failure count survives.
const failureCounterTTL = 24 * time.Hour

// RedisGuard is a FailureGuard shared by every instance that points at the
// same Redis. Failures are an INCR counter; the open state is a key whose
// TTL is the remaining cooldown.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	cfg    GuardConfig

	nowFunc func() time.Time
}

// NewRedisGuard creates a Redis-backed failure guard.
func NewRedisGuard(client redis.Cmdable, prefix string, cfg GuardConfig) *RedisGuard {
	return &RedisGuard{
		client:  client,
		prefix:  prefix,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

func (g *RedisGuard) failuresKey(key string) string { return g.prefix + ":guard:" + key + ":failures" }
func (g *RedisGuard) blockedKey(key string) string  { return g.prefix + ":guard:" + key + ":blocked" }

// Check returns the key's current state.
func (g *RedisGuard) Check(ctx context.Context, key string) (GuardStatus, error) {
	var ttl *redis.DurationCmd
	var failures *redis.StringCmd
	_, err := g.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		ttl = p.PTTL(ctx, g.blockedKey(key))
		failures = p.Get(ctx, g.failuresKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return GuardStatus{}, eris.Wrapf(err, "guard: check %s", key)
	}

	n, _ := failures.Int()
	st := GuardStatus{Failures: n}
	if d := ttl.Val(); d > 0 {
		st.State = CircuitOpen
		st.BlockedUntil = g.nowFunc().Add(d)
	}
	return st, nil
}

// RecordFailure increments the failure counter and, once it reaches the
// threshold, sets the blocked key with NX so only one caller observes the
// open transition.
func (g *RedisGuard) RecordFailure(ctx context.Context, key string) (GuardStatus, error) {
	var incr *redis.IntCmd
	_, err := g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, g.failuresKey(key))
		p.Expire(ctx, g.failuresKey(key), failureCounterTTL)
		return nil
	})
	if err != nil {
		return GuardStatus{}, eris.Wrapf(err, "guard: record failure %s", key)
	}

	n := int(incr.Val())
	st := GuardStatus{Failures: n}
	if n < g.cfg.FailureThreshold {
		return st, nil
	}

	opened, err := g.client.SetNX(ctx, g.blockedKey(key), n, g.cfg.Cooldown).Result()
	if err != nil {
		return st, eris.Wrapf(err, "guard: open %s", key)
	}
	st.State = CircuitOpen
	st.Opened = opened
	if opened {
		st.BlockedUntil = g.nowFunc().Add(g.cfg.Cooldown)
		return st, nil
	}

	d, err := g.client.PTTL(ctx, g.blockedKey(key)).Result()
	if err != nil {
		return st, eris.Wrapf(err, "guard: ttl %s", key)
	}
	if d <= 0 {
		// Expired between SETNX and PTTL.
		st.State = CircuitClosed
		return st, nil
	}
	st.BlockedUntil = g.nowFunc().Add(d)
	return st, nil
}

// RecordSuccess clears the key.
func (g *RedisGuard) RecordSuccess(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.failuresKey(key), g.blockedKey(key)).Err(); err != nil {
		return eris.Wrapf(err, "guard: reset %s", key)
	}
	return nil
}
