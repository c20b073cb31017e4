// Package ratelimit implements per-key admission control for the public chat
// endpoints. Three tiers (caller IP, handle, agent) are counted in separate
// key spaces; the limiter itself knows nothing about why it is called.
package ratelimit

import (
	"context"
	"time"
)

// Tier names an independent rate limit key space.
type Tier string

const (
	TierIP     Tier = "ip"
	TierHandle Tier = "handle"
	TierAgent  Tier = "agent"
)

// Limiter decides whether one more request for (tier, key) is allowed.
type Limiter interface {
	Allow(ctx context.Context, tier Tier, key string) (bool, error)
}

// Limits holds the per-window threshold for each tier.
type Limits struct {
	Window time.Duration
	IP     int
	Handle int
	Agent  int
}

// For returns the threshold for tier. A non-positive threshold disables the tier.
func (l Limits) For(tier Tier) int {
	switch tier {
	case TierIP:
		return l.IP
	case TierHandle:
		return l.Handle
	case TierAgent:
		return l.Agent
	default:
		return 0
	}
}

func (l Limits) window() time.Duration {
	if l.Window <= 0 {
		return time.Minute
	}
	return l.Window
}

func compositeKey(tier Tier, key string) string {
	return string(tier) + ":" + key
}
