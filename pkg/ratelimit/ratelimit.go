// Package ratelimit implements the per-tenant-tier token bucket gate
// named in spec.md §6.6's "Rate limiting" configuration row. It is
// orthogonal to both the per-tenant daily call budget pkg/dispatch
// enforces from TenantOAuthCredentials.RateLimitPerDay and to any 429
// a provider itself returns: this gate bounds call *rate* (bursts per
// second) per subscription tier, not cumulative daily volume.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/stacklok/fedmcp/pkg/domain"
)

// TierLimits is one plan tier's token bucket shape.
type TierLimits struct {
	RatePerSecond float64
	Burst         int
}

// Limiter holds one token bucket per tenant, sized from that tenant's
// plan tier. Buckets are created lazily and never evicted; a fedmcp
// deployment's tenant count is small enough (spec.md's domain: one
// organization per tenant) that this is not a practical leak.
type Limiter struct {
	mu      sync.Mutex
	tiers   map[domain.Plan]TierLimits
	buckets map[string]*rate.Limiter
}

// New constructs a Limiter. A tier missing from tiers (or with a
// non-positive RatePerSecond) is treated as unlimited.
func New(tiers map[domain.Plan]TierLimits) *Limiter {
	return &Limiter{
		tiers:   tiers,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether tenantID may make one more call under its
// plan's token bucket, consuming a token if so.
func (l *Limiter) Allow(tenantID string, plan domain.Plan) bool {
	limiter, ok := l.bucketFor(tenantID, plan)
	if !ok {
		return true
	}
	return limiter.Allow()
}

func (l *Limiter) bucketFor(tenantID string, plan domain.Plan) (*rate.Limiter, bool) {
	tier, configured := l.tiers[plan]
	if !configured || tier.RatePerSecond <= 0 {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := tenantID + "|" + string(plan)
	if b, ok := l.buckets[key]; ok {
		return b, true
	}
	b := rate.NewLimiter(rate.Limit(tier.RatePerSecond), tier.Burst)
	l.buckets[key] = b
	return b, true
}
