package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stacklok/fedmcp/pkg/cache"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/logger"
	"github.com/stacklok/fedmcp/pkg/pagination"
)

// CachingProvider decorates a FitnessProvider with the read-through
// cache wrapper (C9): read operations consult the cache first and
// populate it on miss; mutating operations (Disconnect, SetCredentials)
// bypass the cache and invalidate this (tenant, user, provider)'s
// entries. TTL is purely a function of resource kind, never the
// response body, per spec.
type CachingProvider struct {
	inner    FitnessProvider
	backend  cache.Provider
	tenantID string
	userID   string
}

// NewCachingProvider wraps inner with a cache backend scoped to
// (tenantID, userID, inner.Name()).
func NewCachingProvider(inner FitnessProvider, backend cache.Provider, tenantID, userID string) *CachingProvider {
	return &CachingProvider{inner: inner, backend: backend, tenantID: tenantID, userID: userID}
}

func (c *CachingProvider) key(resource string) string {
	return cache.Key{TenantID: c.tenantID, UserID: c.userID, Provider: c.inner.Name(), Resource: resource}.String()
}

// readThrough is the shared get-or-populate path: on a cache hit it
// unmarshals into dest's type; on miss it calls fetch, marshals the
// result, and sets it with ttl. A marshal failure never fails the call
// — only the caching is skipped, and the miss path's result is returned
// as-is, per spec §4.5.
func readThrough[T any](ctx context.Context, c *CachingProvider, resource string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	key := c.key(resource)
	if raw, ok, err := c.backend.Get(ctx, key); err == nil && ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		logger.Warnf("cache: failed to unmarshal cached value for %s, falling through to origin", key)
	}

	value, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	if raw, err := json.Marshal(value); err != nil {
		logger.Warnf("cache: failed to marshal %s for caching: %v", key, err)
	} else if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		logger.Warnf("cache: set failed for %s: %v", key, err)
	}
	return value, nil
}

func (c *CachingProvider) Name() string                  { return c.inner.Name() }
func (c *CachingProvider) Config() domain.ProviderConfig { return c.inner.Config() }

// SetCredentials bypasses the cache and invalidates this user's entries
// for this provider, since re-authenticating may surface different data.
func (c *CachingProvider) SetCredentials(ctx context.Context, creds Credentials) error {
	if err := c.inner.SetCredentials(ctx, creds); err != nil {
		return err
	}
	if _, err := c.backend.InvalidatePattern(ctx, cache.UserPattern(c.tenantID, c.userID, c.inner.Name())); err != nil {
		logger.Warnf("cache: invalidate on set-credentials failed for %s: %v", c.inner.Name(), err)
	}
	return nil
}

func (c *CachingProvider) IsAuthenticated(ctx context.Context) bool {
	return c.inner.IsAuthenticated(ctx)
}

func (c *CachingProvider) RefreshTokenIfNeeded(ctx context.Context) error {
	return c.inner.RefreshTokenIfNeeded(ctx)
}

func (c *CachingProvider) GetAthlete(ctx context.Context) (domain.Athlete, error) {
	return readThrough(ctx, c, cache.AthleteProfileResource(), time.Duration(cache.TTLProfile)*time.Second,
		func() (domain.Athlete, error) { return c.inner.GetAthlete(ctx) })
}

func (c *CachingProvider) GetActivitiesWithParams(ctx context.Context, params ActivityQueryParams) ([]domain.Activity, error) {
	before, after := "", ""
	if params.Before != nil {
		before = time.Unix(*params.Before, 0).UTC().Format(time.RFC3339)
	}
	if params.After != nil {
		after = time.Unix(*params.After, 0).UTC().Format(time.RFC3339)
	}
	resource := cache.ActivityListResource(params.Offset, params.Limit, before, after)
	return readThrough(ctx, c, resource, time.Duration(cache.TTLActivityList)*time.Second,
		func() ([]domain.Activity, error) { return c.inner.GetActivitiesWithParams(ctx, params) })
}

// GetActivitiesCursor is not cached: cursor pages are short-lived and
// consulting the cache keyed on an opaque cursor string would gain
// nothing, since each cursor is almost always unique per call.
func (c *CachingProvider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[ActivityItem], error) {
	return c.inner.GetActivitiesCursor(ctx, params)
}

func (c *CachingProvider) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	return readThrough(ctx, c, cache.DetailedActivityResource(id), time.Duration(cache.TTLActivity)*time.Second,
		func() (domain.Activity, error) { return c.inner.GetActivity(ctx, id) })
}

func (c *CachingProvider) GetStats(ctx context.Context) (domain.Stats, error) {
	return readThrough(ctx, c, cache.StatsResource(c.userID), time.Duration(cache.TTLStats)*time.Second,
		func() (domain.Stats, error) { return c.inner.GetStats(ctx) })
}

func (c *CachingProvider) GetPersonalRecords(ctx context.Context) ([]domain.PersonalRecord, error) {
	return readThrough(ctx, c, cache.PersonalRecordsResource(), time.Duration(cache.TTLStats)*time.Second,
		func() ([]domain.PersonalRecord, error) { return c.inner.GetPersonalRecords(ctx) })
}

func (c *CachingProvider) GetSleepSessions(ctx context.Context, start, end time.Time) ([]domain.SleepSession, error) {
	resource := cache.SleepSessionsResource(start.Format(time.RFC3339), end.Format(time.RFC3339))
	return readThrough(ctx, c, resource, time.Duration(cache.TTLHealthData)*time.Second,
		func() ([]domain.SleepSession, error) { return c.inner.GetSleepSessions(ctx, start, end) })
}

func (c *CachingProvider) GetLatestSleepSession(ctx context.Context) (domain.SleepSession, error) {
	return readThrough(ctx, c, cache.LatestSleepSessionResource(), time.Duration(cache.TTLHealthData)*time.Second,
		func() (domain.SleepSession, error) { return c.inner.GetLatestSleepSession(ctx) })
}

func (c *CachingProvider) GetRecoveryMetrics(ctx context.Context, start, end time.Time) ([]domain.RecoveryScore, error) {
	resource := cache.RecoveryMetricsResource(start.Format(time.RFC3339), end.Format(time.RFC3339))
	return readThrough(ctx, c, resource, time.Duration(cache.TTLHealthData)*time.Second,
		func() ([]domain.RecoveryScore, error) { return c.inner.GetRecoveryMetrics(ctx, start, end) })
}

func (c *CachingProvider) GetHealthMetrics(ctx context.Context, start, end time.Time) ([]domain.HealthMetrics, error) {
	resource := cache.HealthMetricsResource(start.Format(time.RFC3339), end.Format(time.RFC3339))
	return readThrough(ctx, c, resource, time.Duration(cache.TTLHealthData)*time.Second,
		func() ([]domain.HealthMetrics, error) { return c.inner.GetHealthMetrics(ctx, start, end) })
}

// Disconnect bypasses the cache and invalidates every cached entry for
// this (tenant, user, provider), since the data is no longer reachable
// once the connection is gone.
func (c *CachingProvider) Disconnect(ctx context.Context) error {
	if err := c.inner.Disconnect(ctx); err != nil {
		return err
	}
	if _, err := c.backend.InvalidatePattern(ctx, cache.UserPattern(c.tenantID, c.userID, c.inner.Name())); err != nil {
		logger.Warnf("cache: invalidate on disconnect failed for %s: %v", c.inner.Name(), err)
	}
	return nil
}

var _ FitnessProvider = (*CachingProvider)(nil)
