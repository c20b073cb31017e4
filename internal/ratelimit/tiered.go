package ratelimit

import (
	"context"

	"go.uber.org/zap"
)

// Keys identifies a request in each tier. An empty key skips its tier.
type Keys struct {
	IP     string
	Handle string
	Agent  string
}

// Decision is the outcome of a tiered check.
type Decision struct {
	Allowed bool
	// Tier is the first tier that denied the request.
	Tier Tier
}

// Tiered consults the IP, handle, and agent tiers in that order and stops at
// the first denial. Limiter errors fail open: losing the counter store
// degrades protection but must not take chat down.
type Tiered struct {
	limiter Limiter
}

// NewTiered wraps limiter in the three-tier check.
func NewTiered(limiter Limiter) *Tiered {
	return &Tiered{limiter: limiter}
}

// Check runs the tiers in order.
func (t *Tiered) Check(ctx context.Context, keys Keys) Decision {
	steps := []struct {
		tier Tier
		key  string
	}{
		{TierIP, keys.IP},
		{TierHandle, keys.Handle},
		{TierAgent, keys.Agent},
	}

	for _, s := range steps {
		if s.key == "" {
			continue
		}
		ok, err := t.limiter.Allow(ctx, s.tier, s.key)
		if err != nil {
			zap.L().Warn("ratelimit: limiter error, allowing request",
				zap.String("tier", string(s.tier)),
				zap.String("key", s.key),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			return Decision{Allowed: false, Tier: s.tier}
		}
	}
	return Decision{Allowed: true}
}
