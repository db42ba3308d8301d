package toolcatalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/storage/memstore"
)

func seedEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New([]domain.ToolCatalogEntry{
		{ToolName: "tool_basic", DisplayName: "Basic", Category: domain.CategoryUtility, IsEnabledByDefault: true, MinPlan: domain.PlanTrial},
		{ToolName: "tool_pro", DisplayName: "Pro", Category: domain.CategoryAnalysis, IsEnabledByDefault: true, MinPlan: domain.PlanProfessional},
	})
	require.NoError(t, store.CreateTenant(context.Background(), domain.Tenant{ID: "t1", Plan: domain.PlanStarter}))
	return New(store), store
}

func TestIsToolEnabled_DefaultTier(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	enabled, source, err := e.IsToolEnabled(context.Background(), "t1", "tool_basic")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, domain.SourceDefault, source)
}

func TestIsToolEnabled_PlanRestrictionDominatesTenantOverride(t *testing.T) {
	t.Parallel()
	e, store := seedEngine(t)
	ctx := context.Background()

	// Tenant is on "starter" but tool_pro requires "professional"; an
	// override enabling it must still lose to the plan restriction.
	require.NoError(t, store.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t1", ToolName: "tool_pro", IsEnabled: true}))

	enabled, source, err := e.IsToolEnabled(ctx, "t1", "tool_pro")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, domain.SourcePlanRestriction, source)
}

func TestIsToolEnabled_PlanUpgradeLetsOverrideWin(t *testing.T) {
	t.Parallel()
	e, store := seedEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t1", ToolName: "tool_pro", IsEnabled: true}))
	require.NoError(t, store.UpdateTenant(ctx, domain.Tenant{ID: "t1", Plan: domain.PlanProfessional}))
	e.InvalidateTenant("t1")

	enabled, source, err := e.IsToolEnabled(ctx, "t1", "tool_pro")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, domain.SourceTenantOverride, source)
}

func TestIsToolEnabled_GlobalDisabledDominatesEverything(t *testing.T) {
	t.Parallel()
	e, store := seedEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t1", ToolName: "tool_basic", IsEnabled: true}))
	require.NoError(t, store.UpdateTenant(ctx, domain.Tenant{ID: "t1", Plan: domain.PlanEnterprise}))
	store.SetAdminConfigOverride(domain.AdminConfigOverride{Key: "global_disabled_tools", Scope: "system", Value: "tool_basic, tool_pro"})

	enabled, source, err := e.IsToolEnabled(ctx, "t1", "tool_basic")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, domain.SourceGlobalDisabled, source)
}

func TestGetEffectiveTools_CachedUntilInvalidated(t *testing.T) {
	t.Parallel()
	e, store := seedEngine(t)
	ctx := context.Background()

	first, err := e.GetEffectiveTools(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// Mutate the override store directly, bypassing SetToolOverride, so
	// a stale cache entry (not a fresh compute) is what we'd observe.
	require.NoError(t, store.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t1", ToolName: "tool_basic", IsEnabled: false}))

	cached, err := e.GetEffectiveTools(ctx, "t1")
	require.NoError(t, err)
	for _, tool := range cached {
		if tool.ToolName == "tool_basic" {
			assert.True(t, tool.IsEnabled, "cache must still serve the pre-mutation value")
		}
	}

	e.InvalidateTenant("t1")
	fresh, err := e.GetEffectiveTools(ctx, "t1")
	require.NoError(t, err)
	for _, tool := range fresh {
		if tool.ToolName == "tool_basic" {
			assert.False(t, tool.IsEnabled, "post-invalidate compute must see the mutation")
		}
	}
}

func TestSetToolOverride_InvalidatesCacheAutomatically(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	ctx := context.Background()

	_, err := e.GetEffectiveTools(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, e.SetToolOverride(ctx, "t1", "tool_basic", false, "admin1", "disabled for testing"))

	enabled, source, err := e.IsToolEnabled(ctx, "t1", "tool_basic")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, domain.SourceTenantOverride, source)
}

func TestSetToolOverride_RejectsUnknownTool(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	err := e.SetToolOverride(context.Background(), "t1", "no_such_tool", true, "admin1", "")
	assert.Error(t, err)
}

func TestRemoveToolOverride_RevertsToDefault(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetToolOverride(ctx, "t1", "tool_basic", false, "admin1", "temporary"))
	enabled, _, err := e.IsToolEnabled(ctx, "t1", "tool_basic")
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, e.RemoveToolOverride(ctx, "t1", "tool_basic"))
	enabled, source, err := e.IsToolEnabled(ctx, "t1", "tool_basic")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, domain.SourceDefault, source)
}

func TestGetEnabledTools_FiltersDisabled(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	enabled, err := e.GetEnabledTools(context.Background(), "t1")
	require.NoError(t, err)
	for _, tool := range enabled {
		assert.NotEqual(t, "tool_pro", tool.ToolName, "starter-plan tenant must not see the professional-only tool")
	}
}

func TestGetEnabledTools_EmptyTenantIDServesDiscoveryDefaults(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	tools, err := e.GetEnabledTools(context.Background(), "")
	require.NoError(t, err)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.ToolName
	}
	assert.Contains(t, names, "tool_basic", "catalog defaults must be visible without a tenant")
	assert.Contains(t, names, "tool_pro", "discovery skips plan restriction entirely")
}

func TestGetDiscoveryTools_RespectsGlobalDisableNotPlan(t *testing.T) {
	t.Parallel()
	e, store := seedEngine(t)
	ctx := context.Background()

	require.NoError(t, SeedGlobalDisabledTools(ctx, store, []string{"tool_pro"}))
	tools, err := e.GetDiscoveryTools(ctx)
	require.NoError(t, err)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.ToolName
	}
	assert.Contains(t, names, "tool_basic")
	assert.NotContains(t, names, "tool_pro", "global disable still applies with no tenant")
}

func TestGetAvailabilitySummary_CountsByCategory(t *testing.T) {
	t.Parallel()
	e, _ := seedEngine(t)
	summary, err := e.GetAvailabilitySummary(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTools)
	assert.Equal(t, 1, summary.EnabledTools, "tool_pro is plan-restricted for a starter tenant")
	assert.Equal(t, CategoryCount{Total: 1, Enabled: 1}, summary.ByCategory[domain.CategoryUtility])
	assert.Equal(t, CategoryCount{Total: 1, Enabled: 0}, summary.ByCategory[domain.CategoryAnalysis])
}

func TestInvalidateAll_ClearsEveryTenant(t *testing.T) {
	t.Parallel()
	e, store := seedEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTenant(ctx, domain.Tenant{ID: "t2", Plan: domain.PlanTrial}))

	_, err := e.GetEffectiveTools(ctx, "t1")
	require.NoError(t, err)
	_, err = e.GetEffectiveTools(ctx, "t2")
	require.NoError(t, err)

	e.InvalidateAll()
	assert.Equal(t, 0, e.cache.Len())
}
