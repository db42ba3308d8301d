package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/fedmcp/pkg/domain"
)

func TestLimiter_UnconfiguredTierIsUnlimited(t *testing.T) {
	t.Parallel()
	l := New(map[domain.Plan]TierLimits{})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("tenant-1", domain.PlanTrial))
	}
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	t.Parallel()
	l := New(map[domain.Plan]TierLimits{
		domain.PlanStarter: {RatePerSecond: 0.0001, Burst: 2},
	})
	assert.True(t, l.Allow("tenant-1", domain.PlanStarter))
	assert.True(t, l.Allow("tenant-1", domain.PlanStarter))
	assert.False(t, l.Allow("tenant-1", domain.PlanStarter))
}

func TestLimiter_BucketsAreIndependentPerTenant(t *testing.T) {
	t.Parallel()
	l := New(map[domain.Plan]TierLimits{
		domain.PlanStarter: {RatePerSecond: 0.0001, Burst: 1},
	})
	assert.True(t, l.Allow("tenant-1", domain.PlanStarter))
	assert.False(t, l.Allow("tenant-1", domain.PlanStarter))
	assert.True(t, l.Allow("tenant-2", domain.PlanStarter))
}
