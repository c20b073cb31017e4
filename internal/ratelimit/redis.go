package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisLimiter is a fixed-window counter shared by every instance pointing at
// the same Redis. Each window is its own key, incremented with INCR and
// expired after the window ends.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	limits Limits

	nowFunc func() time.Time
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter.
func NewRedisLimiter(client redis.Cmdable, prefix string, limits Limits) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limits: limits, nowFunc: time.Now}
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, tier Tier, key string) (bool, error) {
	limit := r.limits.For(tier)
	if limit <= 0 {
		return true, nil
	}

	window := r.limits.window()
	idx := r.nowFunc().UnixNano() / int64(window)
	k := r.prefix + ":rl:" + compositeKey(tier, key) + ":" + strconv.FormatInt(idx, 10)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, window+time.Second)
		return nil
	})
	if err != nil {
		return false, eris.Wrapf(err, "ratelimit: incr %s", k)
	}
	return incr.Val() <= int64(limit), nil
}
