package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/oauthmgr"
	"github.com/stacklok/fedmcp/pkg/pagination"
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/ratelimit"
	"github.com/stacklok/fedmcp/pkg/storage/memstore"
	"github.com/stacklok/fedmcp/pkg/toolcatalog"
)

// fakeProvider is a minimal in-memory FitnessProvider double. Each
// method is only as capable as the tests in this file need.
type fakeProvider struct {
	name          string
	config        domain.ProviderConfig
	activities    []domain.Activity
	sleep         domain.SleepSession
	failSleep     bool
	activityCalls int
	activityFails map[string]bool
}

func (f *fakeProvider) Name() string                  { return f.name }
func (f *fakeProvider) Config() domain.ProviderConfig { return f.config }

func (f *fakeProvider) SetCredentials(context.Context, provider.Credentials) error { return nil }
func (f *fakeProvider) IsAuthenticated(context.Context) bool                       { return true }
func (f *fakeProvider) RefreshTokenIfNeeded(context.Context) error                { return nil }

func (f *fakeProvider) GetAthlete(context.Context) (domain.Athlete, error) {
	return domain.Athlete{ID: "athlete-1", FirstName: "Test", LastName: "Athlete"}, nil
}

func (f *fakeProvider) GetActivitiesWithParams(context.Context, provider.ActivityQueryParams) ([]domain.Activity, error) {
	f.activityCalls++
	return f.activities, nil
}

func (f *fakeProvider) GetActivitiesCursor(context.Context, pagination.Params) (pagination.Page[provider.ActivityItem], error) {
	return pagination.Page[provider.ActivityItem]{}, nil
}

func (f *fakeProvider) GetActivity(_ context.Context, id string) (domain.Activity, error) {
	if f.activityFails[id] {
		return domain.Activity{}, apperr.New(apperr.KindProviderAPIError, "detail fetch failed")
	}
	for _, a := range f.activities {
		if a.ID == id {
			a.Name = a.Name + " (detail)"
			return a, nil
		}
	}
	return domain.Activity{}, apperr.New(apperr.KindNotFound, "no such activity")
}

func (f *fakeProvider) GetStats(context.Context) (domain.Stats, error) { return domain.Stats{}, nil }
func (f *fakeProvider) GetPersonalRecords(context.Context) ([]domain.PersonalRecord, error) {
	return nil, nil
}

func (f *fakeProvider) GetSleepSessions(context.Context, time.Time, time.Time) ([]domain.SleepSession, error) {
	if f.failSleep {
		return nil, apperr.New(apperr.KindProviderAPIError, "sleep fetch failed")
	}
	return []domain.SleepSession{f.sleep}, nil
}

func (f *fakeProvider) GetLatestSleepSession(context.Context) (domain.SleepSession, error) {
	if f.failSleep {
		return domain.SleepSession{}, apperr.New(apperr.KindProviderAPIError, "sleep fetch failed")
	}
	return f.sleep, nil
}

func (f *fakeProvider) GetRecoveryMetrics(context.Context, time.Time, time.Time) ([]domain.RecoveryScore, error) {
	return nil, nil
}

func (f *fakeProvider) GetHealthMetrics(context.Context, time.Time, time.Time) ([]domain.HealthMetrics, error) {
	return nil, nil
}

func (f *fakeProvider) Disconnect(context.Context) error { return nil }

var activityDescriptor = domain.ProviderDescriptor{
	Name:         "strava",
	DisplayName:  "Strava",
	Capabilities: map[domain.Capability]bool{domain.CapabilityActivities: true},
}

var sleepDescriptor = domain.ProviderDescriptor{
	Name:         "whoop",
	DisplayName:  "Whoop",
	Capabilities: map[domain.Capability]bool{domain.CapabilitySleep: true},
}

type harness struct {
	d        *Dispatcher
	store    *memstore.Store
	registry *provider.Registry
	strava   *fakeProvider
	whoop    *fakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLimiter(t, nil)
}

func newHarnessWithLimiter(t *testing.T, limiter *ratelimit.Limiter) *harness {
	t.Helper()
	store := memstore.New([]domain.ToolCatalogEntry{
		{ToolName: "get_athlete", Category: domain.CategoryDataAccess, IsEnabledByDefault: true, MinPlan: domain.PlanTrial},
		{ToolName: "get_activities", Category: domain.CategoryDataAccess, IsEnabledByDefault: true, MinPlan: domain.PlanTrial},
		{ToolName: "get_sleep_sessions", Category: domain.CategoryDataAccess, IsEnabledByDefault: true, MinPlan: domain.PlanTrial},
		{ToolName: "calculate_recovery_score", Category: domain.CategoryAnalysis, IsEnabledByDefault: true, MinPlan: domain.PlanTrial},
		{ToolName: "disabled_tool", Category: domain.CategoryUtility, IsEnabledByDefault: false, MinPlan: domain.PlanTrial},
	})
	require.NoError(t, store.CreateTenant(context.Background(), domain.Tenant{ID: "tenant-1", Plan: domain.PlanEnterprise}))

	strava := &fakeProvider{name: "strava", config: domain.ProviderConfig{Name: "strava"}}
	whoop := &fakeProvider{name: "whoop", config: domain.ProviderConfig{Name: "whoop"}}

	registry := provider.NewRegistry()
	registry.Register(activityDescriptor, domain.ProviderConfig{Name: "strava"}, func(domain.ProviderConfig) (provider.FitnessProvider, error) {
		return strava, nil
	})
	registry.Register(sleepDescriptor, domain.ProviderConfig{Name: "whoop"}, func(domain.ProviderConfig) (provider.FitnessProvider, error) {
		return whoop, nil
	})

	enc, err := crypto.NewEnvelopeStore(make([]byte, 32))
	require.NoError(t, err)
	tokens := oauthmgr.New(store, enc, registry, nil)

	connectProvider(t, store, enc, "tenant-1", "user-1", "strava")
	connectProvider(t, store, enc, "tenant-1", "user-1", "whoop")

	catalog := toolcatalog.New(store)
	d := New(catalog, registry, tokens, store, limiter, nil)

	return &harness{d: d, store: store, registry: registry, strava: strava, whoop: whoop}
}

func connectProvider(t *testing.T, store *memstore.Store, enc *crypto.EnvelopeStore, tenantID, userID, providerName string) {
	t.Helper()
	aad := tenantID + "|" + userID + "|" + providerName + "|user_oauth_tokens"
	accessEnc, err := enc.Encrypt("access-"+providerName, aad)
	require.NoError(t, err)
	require.NoError(t, store.UpsertUserProviderToken(context.Background(), domain.UserProviderToken{
		UserID:          userID,
		ProviderName:    providerName,
		TenantID:        tenantID,
		AccessTokenEnc:  accessEnc,
		ExpiresAt:       time.Now().Add(time.Hour),
		LastRefreshedAt: time.Now(),
	}))
}

func adminPrincipal() Principal  { return Principal{UserID: "user-1", TenantID: "tenant-1", IsAdmin: true} }
func regularPrincipal() Principal { return Principal{UserID: "user-1", TenantID: "tenant-1"} }

func TestDispatch_UnknownTool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), Request{ToolName: "no_such_tool", Principal: regularPrincipal()})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindToolNotAvailable, appErr.Kind)
}

func TestDispatch_DisabledToolHidesSourceFromNonAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), Request{ToolName: "disabled_tool", Principal: regularPrincipal()})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindToolNotAvailable, appErr.Kind)
	assert.Nil(t, appErr.Data["source"])
}

func TestDispatch_DisabledToolLeaksSourceToAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), Request{ToolName: "disabled_tool", Principal: adminPrincipal()})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(domain.SourceDefault), appErr.Data["source"])
}

func TestDispatch_ExplicitProviderSelection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	res, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "get_athlete",
		Principal: regularPrincipal(),
		Arguments: map[string]any{"provider": "strava"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"strava"}, res.Providers)
	assert.Equal(t, domain.DataCompletenessFull, res.Completeness)
}

func TestDispatch_ExplicitProviderUnsupported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "get_athlete",
		Principal: regularPrincipal(),
		Arguments: map[string]any{"provider": "garmin"},
	})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindUnsupportedProvider, appErr.Kind)
}

func TestDispatch_AutoSelectFallsBackToConnectedProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// strava is first in the activities priority list and is connected,
	// so auto-select (no explicit provider argument) must pick it.
	res, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "get_athlete",
		Principal: regularPrincipal(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"strava"}, res.Providers)
}

func TestDispatch_NoConnectedProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "get_sleep_sessions",
		Principal: Principal{UserID: "user-nobody", TenantID: "tenant-1"},
	})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNoConnectedProvider, appErr.Kind)
}

func TestDispatch_CancelledContextBeforeConstruction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.d.Dispatch(ctx, Request{
		ToolName:  "get_athlete",
		Principal: regularPrincipal(),
		Arguments: map[string]any{"provider": "strava"},
	})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindOperationCancelled, appErr.Kind)
}

func TestDispatch_GetActivitiesIncludeDetailsFanout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.strava.activities = []domain.Activity{
		{ID: "a1", Name: "Ride"},
		{ID: "a2", Name: "Run"},
		{ID: "a3", Name: "Swim"},
	}
	h.strava.activityFails = map[string]bool{"a2": true}

	res, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "get_activities",
		Principal: regularPrincipal(),
		Arguments: map[string]any{"provider": "strava", "include_details": true},
	})
	require.NoError(t, err)
	activities, ok := res.Content.([]domain.Activity)
	require.True(t, ok)
	require.Len(t, activities, 3)
	assert.Equal(t, "Ride (detail)", activities[0].Name)
	assert.Equal(t, "Run", activities[1].Name) // detail fetch failed, summary kept
	assert.Equal(t, "Swim (detail)", activities[2].Name)
}

func TestDispatch_RecoveryScoreFullWhenSleepAvailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	now := time.Now().UTC()
	h.strava.activities = []domain.Activity{
		{ID: "a1", StartTime: now.AddDate(0, 0, -2), DurationSecs: 3600, AvgHR: intPtr(140)},
	}
	hrv := 65.0
	h.whoop.sleep = domain.SleepSession{EfficiencyPercent: 88, HRV: &hrv}

	res, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "calculate_recovery_score",
		Principal: regularPrincipal(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DataCompletenessFull, res.Completeness)
	assert.ElementsMatch(t, []string{"strava", "whoop"}, res.Providers)
	score, ok := res.Content.(domain.RecoveryScore)
	require.True(t, ok)
	assert.Greater(t, score.HRVWeight, 0.0)
}

func TestDispatch_RecoveryScoreDegradesWhenSleepErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.whoop.failSleep = true

	res, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "calculate_recovery_score",
		Principal: regularPrincipal(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DataCompletenessTSBOnly, res.Completeness)
	score, ok := res.Content.(domain.RecoveryScore)
	require.True(t, ok)
	assert.NotEmpty(t, score.Limitations)
	assert.Equal(t, 1.0, score.TSBWeight)
}

func TestDispatch_RecoveryScoreDegradesWhenNoSleepProviderConnected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// Disconnect the sleep-capable provider entirely.
	require.NoError(t, h.store.DeleteUserProviderToken(context.Background(), "user-1", "whoop", "tenant-1"))

	res, err := h.d.Dispatch(context.Background(), Request{
		ToolName:  "calculate_recovery_score",
		Principal: regularPrincipal(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DataCompletenessTSBOnly, res.Completeness)
	assert.Equal(t, []string{"strava"}, res.Providers)
}

func TestDispatch_RateLimitUnlimitedWithNoTenantOAuthClient(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// No TenantOAuthCredentials row exists for "strava" in this harness.
	for i := 0; i < 5; i++ {
		_, err := h.d.Dispatch(context.Background(), Request{
			ToolName:  "get_athlete",
			Principal: regularPrincipal(),
			Arguments: map[string]any{"provider": "strava"},
		})
		require.NoError(t, err)
	}
}

func TestDispatch_RateLimitExceededReturnsRetryAfter(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.store.UpsertTenantOAuthCredentials(context.Background(), domain.TenantOAuthCredentials{
		TenantID:        "tenant-1",
		ProviderName:    "strava",
		ClientID:        "client-1",
		ClientSecretEnc: "enc",
		RedirectURI:     "https://example.test/callback",
		RateLimitPerDay: 2,
	}))

	req := Request{
		ToolName:  "get_athlete",
		Principal: regularPrincipal(),
		Arguments: map[string]any{"provider": "strava"},
	}
	_, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	_, err = h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	_, err = h.d.Dispatch(context.Background(), req)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindRateLimitExceeded, appErr.Kind)
	retryAfter, ok := appErr.Data["retry_after_secs"].(int)
	require.True(t, ok)
	assert.Greater(t, retryAfter, 0)
}

func TestDispatch_TierRateLimitExceeded(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.New(map[domain.Plan]ratelimit.TierLimits{
		domain.PlanEnterprise: {RatePerSecond: 0.0001, Burst: 1},
	})
	h := newHarnessWithLimiter(t, limiter)

	req := Request{
		ToolName:  "get_athlete",
		Principal: regularPrincipal(),
		Arguments: map[string]any{"provider": "strava"},
	}
	_, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	_, err = h.d.Dispatch(context.Background(), req)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindRateLimitExceeded, appErr.Kind)
	assert.Equal(t, "tier", appErr.Data["scope"])
}

func intPtr(v int) *int { return &v }
