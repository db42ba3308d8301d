// Package dispatch implements the tool dispatcher (C10): the single
// entry point a transport layer calls once a tools/call request has
// been authenticated. It runs the enablement gate, parses arguments,
// selects and constructs a provider, invokes the handler, and formats
// the response envelope, honoring cancellation at the two checkpoints
// spec.md names explicitly.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/cache"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/oauthmgr"
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/ratelimit"
	"github.com/stacklok/fedmcp/pkg/storage"
	"github.com/stacklok/fedmcp/pkg/toolcatalog"
)

// Principal identifies the caller a tool call is dispatched on behalf of.
type Principal struct {
	UserID   string
	TenantID string
	IsAdmin  bool
}

// Request is the dispatcher's sole entry point input.
type Request struct {
	ToolName     string
	Arguments    map[string]any
	Principal    Principal
	RequestID    string
	OutputFormat string // "json" (default) or a tool-specific alternative
}

// Result is the response envelope returned to the transport layer.
type Result struct {
	Content      any
	RequestID    string
	Timestamp    time.Time
	Providers    []string
	Completeness domain.DataCompleteness
}

// Dispatcher wires the tool-selection engine, provider registry, and
// token manager into the 8-step pipeline of spec.md §4.6.
type Dispatcher struct {
	catalog  *toolcatalog.Engine
	registry *provider.Registry
	tokens   *oauthmgr.Manager
	store    storage.Store
	cache    cache.Provider
	limiter  *ratelimit.Limiter
	handlers map[string]*ToolHandler
}

// New constructs a Dispatcher. cacheBackend may be nil; tools marked
// Cacheable are then invoked uncached. store backs the per-tenant daily
// call budget; a tenant with no TenantOAuthCredentials row for a
// provider is treated as unlimited for that provider. limiter may be
// nil, disabling the per-tier burst gate entirely.
func New(catalog *toolcatalog.Engine, registry *provider.Registry, tokens *oauthmgr.Manager, store storage.Store, limiter *ratelimit.Limiter, cacheBackend cache.Provider) *Dispatcher {
	d := &Dispatcher{
		catalog:  catalog,
		registry: registry,
		tokens:   tokens,
		store:    store,
		cache:    cacheBackend,
		limiter:  limiter,
		handlers: make(map[string]*ToolHandler),
	}
	registerBuiltinHandlers(d)
	return d
}

// Register adds or replaces a tool handler. Exposed so cmd/fedmcp (or a
// test) can extend the tool set beyond the builtins without forking
// this package.
func (d *Dispatcher) Register(h *ToolHandler) {
	d.handlers[h.Name] = h
}

// capabilityPriority is the auto-select order spec.md §4.6 step 3 names
// per capability.
var capabilityPriority = map[domain.Capability][]string{
	domain.CapabilityActivities: {"strava", "garmin", "fitbit", "whoop", "terra"},
	domain.CapabilitySleep:      {"whoop", "garmin", "fitbit", "terra"},
}

// Dispatch runs the full pipeline for one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	handler, ok := d.handlers[req.ToolName]
	if !ok {
		return Result{}, apperr.New(apperr.KindToolNotAvailable, "unknown tool "+req.ToolName)
	}

	// Step 1: enablement gate.
	enabled, source, err := d.catalog.IsToolEnabled(ctx, req.Principal.TenantID, req.ToolName)
	if err != nil {
		return Result{}, err
	}
	if !enabled {
		appErr := apperr.New(apperr.KindToolNotAvailable, "tool "+req.ToolName+" is not available")
		if req.Principal.IsAdmin {
			appErr = appErr.WithData(map[string]any{"source": string(source)})
		}
		return Result{}, appErr
	}

	// Tier rate limit gate: per-tenant-plan token bucket, independent of
	// the per-tenant daily provider budget checked further below.
	if err := d.checkTierRateLimit(ctx, req.Principal.TenantID); err != nil {
		return Result{}, err
	}

	// Step 2: parameter parse.
	params, err := handler.Parse(req.Arguments)
	if err != nil {
		return Result{}, err
	}

	// Step 3: provider selection.
	providerName, _ := req.Arguments["provider"].(string)
	selected, err := d.selectProvider(ctx, req.Principal, providerName, handler.RequiredCapability)
	if err != nil {
		return Result{}, err
	}

	// Step 8 (first checkpoint): between selection and construction.
	if err := ctx.Err(); err != nil {
		return Result{}, apperr.Wrap(apperr.KindOperationCancelled, "call cancelled before provider construction", err)
	}

	// Rate limit gate: per-tenant daily call budget on the selected provider.
	if err := d.checkRateLimit(ctx, req.Principal.TenantID, selected); err != nil {
		return Result{}, err
	}

	// Step 4: provider construction.
	fp, err := d.buildProvider(ctx, selected, req.Principal, handler.Cacheable)
	if err != nil {
		return Result{}, err
	}

	// Step 5/6: invocation (+ analytics composition for composite handlers).
	content, completeness, providersUsed, err := handler.Invoke(ctx, d, req.Principal, selected, fp, params)
	if err != nil {
		return Result{}, err
	}

	// Step 8 (second checkpoint): after invocation.
	if err := ctx.Err(); err != nil {
		return Result{}, apperr.Wrap(apperr.KindOperationCancelled, "call cancelled after invocation", err)
	}

	// Record the successful upstream call(s) against the daily budget.
	for _, p := range providersUsed {
		d.recordProviderCall(ctx, req.Principal.TenantID, p)
	}

	// Step 7: output formatting / envelope metadata.
	return Result{
		Content:      content,
		RequestID:    req.RequestID,
		Timestamp:    time.Now().UTC(),
		Providers:    providersUsed,
		Completeness: completeness,
	}, nil
}

// selectProvider implements step 3: explicit provider if named, else
// auto-select by capability priority, first candidate with a valid
// token wins.
func (d *Dispatcher) selectProvider(ctx context.Context, principal Principal, explicit string, capability domain.Capability) (string, error) {
	if explicit != "" {
		if !d.registry.IsSupported(explicit) {
			return "", apperr.New(apperr.KindUnsupportedProvider, "provider "+explicit+" is not supported")
		}
		return explicit, nil
	}

	candidates := capabilityPriority[capability]
	for _, name := range candidates {
		if !d.registry.IsSupported(name) {
			continue
		}
		if !d.registry.GetCapabilities(name)[capability] {
			continue
		}
		bundle, err := d.tokens.GetValidToken(ctx, principal.UserID, name, principal.TenantID)
		if err != nil {
			continue
		}
		if bundle != nil {
			return name, nil
		}
	}
	return "", apperr.New(apperr.KindNoConnectedProvider, "no connected provider advertises capability "+string(capability)).
		WithData(map[string]any{"required_capability": string(capability)})
}

// buildProvider implements step 4: a tenant/user-scoped provider
// instance, credentialed from the token manager, optionally wrapped
// with the read-through cache.
func (d *Dispatcher) buildProvider(ctx context.Context, providerName string, principal Principal, cacheable bool) (provider.FitnessProvider, error) {
	fp, err := d.registry.CreateTenantProvider(providerName, principal.TenantID, principal.UserID)
	if err != nil {
		return nil, err
	}

	bundle, err := d.tokens.GetValidToken(ctx, principal.UserID, providerName, principal.TenantID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, apperr.New(apperr.KindAuthenticationRequired, "user has not connected "+providerName)
	}
	if err := fp.SetCredentials(ctx, provider.Credentials{
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		ExpiresAt:    bundle.ExpiresAt,
		Scopes:       bundle.Scopes,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderAPIError, "set provider credentials", err)
	}

	if cacheable && d.cache != nil {
		fp = d.registry.CreateCachingProvider(fp, d.cache, principal.TenantID, principal.UserID)
	}
	return fp, nil
}

// checkTierRateLimit enforces the per-tenant-plan token bucket gate. A
// nil limiter (no tiers configured) disables this gate entirely.
func (d *Dispatcher) checkTierRateLimit(ctx context.Context, tenantID string) error {
	if d.limiter == nil {
		return nil
	}
	tenant, err := d.store.GetTenant(ctx, tenantID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "read tenant for rate limit tier", err)
	}
	if !d.limiter.Allow(tenantID, tenant.Plan) {
		return apperr.New(apperr.KindRateLimitExceeded, "call rate exceeds "+string(tenant.Plan)+" tier burst limit").
			WithData(map[string]any{"scope": "tier"})
	}
	return nil
}

// checkRateLimit enforces the per-tenant daily call budget named on the
// tenant's OAuth client for providerName. A tenant with no such client
// registered (KindNotFound) or a non-positive RateLimitPerDay is
// unlimited.
func (d *Dispatcher) checkRateLimit(ctx context.Context, tenantID, providerName string) error {
	creds, err := d.store.GetTenantOAuthCredentials(ctx, tenantID, providerName)
	if err != nil {
		if errors.Is(err, apperr.New(apperr.KindNotFound, "")) {
			return nil
		}
		return apperr.Wrap(apperr.KindInternal, "read tenant oauth credentials", err)
	}
	if creds.RateLimitPerDay <= 0 {
		return nil
	}

	day := time.Now().UTC().Format("2006-01-02")
	count, err := d.store.GetProviderCallCount(ctx, tenantID, providerName, day)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "read provider call count", err)
	}
	if count >= creds.RateLimitPerDay {
		return apperr.New(apperr.KindRateLimitExceeded, "daily call budget exhausted for "+providerName).
			WithData(map[string]any{
				"provider":         providerName,
				"retry_after_secs": secondsUntilNextUTCMidnight(),
			})
	}
	return nil
}

// recordProviderCall increments providerName's counter for today. Best
// effort: a counter write failure must not fail a call that already
// succeeded against the upstream provider.
func (d *Dispatcher) recordProviderCall(ctx context.Context, tenantID, providerName string) {
	day := time.Now().UTC().Format("2006-01-02")
	_ = d.store.IncrementProviderCallCount(ctx, tenantID, providerName, day)
}

func secondsUntilNextUTCMidnight() int {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return int(midnight.Sub(now).Seconds())
}
