// Package toolcatalog computes the effective set of tools a tenant sees,
// under a fixed four-tier precedence: global disable, plan restriction,
// tenant override, catalog default. Results are cached per tenant in an
// expirable LRU so repeated dispatch calls don't recompute the full
// catalog on every request.
package toolcatalog

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/storage"
)

const (
	cacheSize = 1000
	cacheTTL  = 5 * time.Minute

	globalDisabledConfigKey = "global_disabled_tools"
	systemScope             = "system"
)

// Engine computes and caches effective tool lists per tenant.
type Engine struct {
	store storage.Store
	cache *lru.LRU[string, []domain.EffectiveTool]
}

// New constructs an Engine with the default cache size and TTL.
func New(store storage.Store) *Engine {
	return &Engine{
		store: store,
		cache: lru.NewLRU[string, []domain.EffectiveTool](cacheSize, nil, cacheTTL),
	}
}

// GetEffectiveTools returns the full effective-tool list for a tenant,
// serving from cache when present.
func (e *Engine) GetEffectiveTools(ctx context.Context, tenantID string) ([]domain.EffectiveTool, error) {
	if cached, ok := e.cache.Get(tenantID); ok {
		return cached, nil
	}

	computed, err := e.computeEffectiveTools(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	e.cache.Add(tenantID, computed)
	return computed, nil
}

// GetEnabledTools returns the subset of GetEffectiveTools with IsEnabled
// true. An empty tenantID means the caller has no principal yet — the
// discovery methods (tools/list, initialize) MUST succeed unauthenticated,
// so this serves catalog defaults rather than resolving a tenant that
// doesn't exist.
func (e *Engine) GetEnabledTools(ctx context.Context, tenantID string) ([]domain.EffectiveTool, error) {
	if tenantID == "" {
		return e.GetDiscoveryTools(ctx)
	}

	all, err := e.GetEffectiveTools(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	enabled := make([]domain.EffectiveTool, 0, len(all))
	for _, t := range all {
		if t.IsEnabled {
			enabled = append(enabled, t)
		}
	}
	return enabled, nil
}

// GetDiscoveryTools returns the catalog's enabled-by-default tools for
// an unauthenticated caller: global disable still applies, but plan
// restriction and tenant overrides don't, since there is no tenant to
// resolve either against. Not cached — discovery calls are infrequent
// relative to per-tenant dispatch, and the result never depends on any
// tenant-scoped state that would need invalidating.
func (e *Engine) GetDiscoveryTools(ctx context.Context) ([]domain.EffectiveTool, error) {
	disabled, err := e.globalDisabledSet(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := e.store.ListToolCatalog(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list tool catalog", err)
	}

	result := make([]domain.EffectiveTool, 0, len(catalog))
	for _, entry := range catalog {
		if disabled[entry.ToolName] || !entry.IsEnabledByDefault {
			continue
		}
		result = append(result, domain.EffectiveTool{
			ToolName:    entry.ToolName,
			DisplayName: entry.DisplayName,
			Description: entry.Description,
			Category:    entry.Category,
			MinPlan:     entry.MinPlan,
			IsEnabled:   true,
			Source:      domain.SourceDefault,
		})
	}
	return result, nil
}

// IsToolEnabled is the fast path: it avoids recomputing the full tenant
// list, short-circuiting on global-disabled before touching the catalog
// or override store.
func (e *Engine) IsToolEnabled(ctx context.Context, tenantID, toolName string) (bool, domain.EffectiveToolSource, error) {
	disabled, err := e.globalDisabledSet(ctx)
	if err != nil {
		return false, "", err
	}
	if disabled[toolName] {
		return false, domain.SourceGlobalDisabled, nil
	}

	entry, err := e.store.GetToolCatalogEntry(ctx, toolName)
	if err != nil {
		return false, "", apperr.Wrap(apperr.KindInvalidParams, "unknown tool "+toolName, err)
	}

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return false, "", apperr.Wrap(apperr.KindInternal, "load tenant", err)
	}
	if !tenant.Plan.MeetsMinimum(entry.MinPlan) {
		return false, domain.SourcePlanRestriction, nil
	}

	override, err := e.store.GetTenantToolOverride(ctx, tenantID, toolName)
	if err == nil {
		return override.IsEnabled, domain.SourceTenantOverride, nil
	}

	return entry.IsEnabledByDefault, domain.SourceDefault, nil
}

// SetToolOverride validates the tool exists, upserts the tenant's
// override, and invalidates the tenant's cached effective-tool list
// before returning — the invalidate happens-before any success return,
// so the next GetEffectiveTools call for this tenant always recomputes.
func (e *Engine) SetToolOverride(ctx context.Context, tenantID, toolName string, isEnabled bool, adminUserID, reason string) error {
	if _, err := e.store.GetToolCatalogEntry(ctx, toolName); err != nil {
		return apperr.Wrap(apperr.KindInvalidParams, "unknown tool "+toolName, err)
	}
	if err := e.store.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{
		TenantID:     tenantID,
		ToolName:     toolName,
		IsEnabled:    isEnabled,
		SetByAdminID: adminUserID,
		Reason:       reason,
	}); err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert tool override", err)
	}
	e.InvalidateTenant(tenantID)
	return nil
}

// RemoveToolOverride deletes a tenant's override and invalidates its cache.
func (e *Engine) RemoveToolOverride(ctx context.Context, tenantID, toolName string) error {
	if err := e.store.DeleteTenantToolOverride(ctx, tenantID, toolName); err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete tool override", err)
	}
	e.InvalidateTenant(tenantID)
	return nil
}

// AvailabilitySummary totals up a tenant's effective tools by category.
type AvailabilitySummary struct {
	TotalTools   int
	EnabledTools int
	ByCategory   map[domain.ToolCategory]CategoryCount
}

// CategoryCount is the enabled/total split for one tool category.
type CategoryCount struct {
	Total   int
	Enabled int
}

// GetAvailabilitySummary reports totals and per-category counts for a tenant.
func (e *Engine) GetAvailabilitySummary(ctx context.Context, tenantID string) (AvailabilitySummary, error) {
	all, err := e.GetEffectiveTools(ctx, tenantID)
	if err != nil {
		return AvailabilitySummary{}, err
	}

	summary := AvailabilitySummary{ByCategory: make(map[domain.ToolCategory]CategoryCount)}
	for _, t := range all {
		summary.TotalTools++
		c := summary.ByCategory[t.Category]
		c.Total++
		if t.IsEnabled {
			summary.EnabledTools++
			c.Enabled++
		}
		summary.ByCategory[t.Category] = c
	}
	return summary, nil
}

// InvalidateTenant evicts one tenant's cached effective-tool list.
func (e *Engine) InvalidateTenant(tenantID string) {
	e.cache.Remove(tenantID)
}

// InvalidateAll clears the entire cache, e.g. after a catalog-wide change.
func (e *Engine) InvalidateAll() {
	e.cache.Purge()
}

func (e *Engine) computeEffectiveTools(ctx context.Context, tenantID string) ([]domain.EffectiveTool, error) {
	disabled, err := e.globalDisabledSet(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := e.store.ListToolCatalog(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list tool catalog", err)
	}

	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load tenant", err)
	}

	overrides, err := e.store.ListTenantToolOverrides(ctx, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list tenant tool overrides", err)
	}
	overrideByTool := make(map[string]domain.TenantToolOverride, len(overrides))
	for _, o := range overrides {
		overrideByTool[o.ToolName] = o
	}

	result := make([]domain.EffectiveTool, 0, len(catalog))
	for _, entry := range catalog {
		result = append(result, resolveOne(entry, tenant, overrideByTool, disabled))
	}
	return result, nil
}

func resolveOne(entry domain.ToolCatalogEntry, tenant domain.Tenant, overrides map[string]domain.TenantToolOverride, disabled map[string]bool) domain.EffectiveTool {
	et := domain.EffectiveTool{
		ToolName:    entry.ToolName,
		DisplayName: entry.DisplayName,
		Description: entry.Description,
		Category:    entry.Category,
		MinPlan:     entry.MinPlan,
	}

	switch {
	case disabled[entry.ToolName]:
		et.IsEnabled = false
		et.Source = domain.SourceGlobalDisabled
	case !tenant.Plan.MeetsMinimum(entry.MinPlan):
		et.IsEnabled = false
		et.Source = domain.SourcePlanRestriction
	default:
		if override, ok := overrides[entry.ToolName]; ok {
			et.IsEnabled = override.IsEnabled
			et.Source = domain.SourceTenantOverride
		} else {
			et.IsEnabled = entry.IsEnabledByDefault
			et.Source = domain.SourceDefault
		}
	}
	return et
}

// SeedGlobalDisabledTools writes the deployment-wide disabled-tool list
// (e.g. from startup configuration) into the same admin config override
// globalDisabledSet reads. Passing an empty slice clears the override.
func SeedGlobalDisabledTools(ctx context.Context, store storage.Store, toolNames []string) error {
	return store.UpsertAdminConfigOverride(ctx, domain.AdminConfigOverride{
		Key:   globalDisabledConfigKey,
		Scope: systemScope,
		Value: strings.Join(toolNames, ","),
	})
}

// globalDisabledSet loads the deployment-wide disabled-tool set from the
// admin config override store (comma-separated tool names under
// "global_disabled_tools"/"system"); an absent key means nothing is
// globally disabled.
func (e *Engine) globalDisabledSet(ctx context.Context) (map[string]bool, error) {
	override, err := e.store.GetAdminConfigOverride(ctx, globalDisabledConfigKey, systemScope)
	if err != nil {
		return map[string]bool{}, nil
	}

	set := make(map[string]bool)
	for _, name := range strings.Split(override.Value, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = true
		}
	}
	return set, nil
}
