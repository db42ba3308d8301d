package provider

import (
	"context"
	"time"

	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/logger"
	"github.com/stacklok/fedmcp/pkg/pagination"
)

// TenantProvider decorates a FitnessProvider with tenant/user-scoped
// logging. Grounded directly on original_source's TenantProvider
// (providers/core.rs): every method delegates unchanged except
// SetCredentials and Disconnect, which log the tenant/user context first.
type TenantProvider struct {
	inner    FitnessProvider
	tenantID string
	userID   string
}

// NewTenantProvider wraps inner with tenant/user context.
func NewTenantProvider(inner FitnessProvider, tenantID, userID string) *TenantProvider {
	return &TenantProvider{inner: inner, tenantID: tenantID, userID: userID}
}

func (t *TenantProvider) TenantID() string { return t.tenantID }
func (t *TenantProvider) UserID() string   { return t.userID }

func (t *TenantProvider) Name() string                  { return t.inner.Name() }
func (t *TenantProvider) Config() domain.ProviderConfig { return t.inner.Config() }

func (t *TenantProvider) SetCredentials(ctx context.Context, creds Credentials) error {
	logger.Infof("setting credentials for provider %s in tenant %s for user %s", t.Name(), t.tenantID, t.userID)
	return t.inner.SetCredentials(ctx, creds)
}

func (t *TenantProvider) IsAuthenticated(ctx context.Context) bool {
	return t.inner.IsAuthenticated(ctx)
}

func (t *TenantProvider) RefreshTokenIfNeeded(ctx context.Context) error {
	return t.inner.RefreshTokenIfNeeded(ctx)
}

func (t *TenantProvider) GetAthlete(ctx context.Context) (domain.Athlete, error) {
	return t.inner.GetAthlete(ctx)
}

func (t *TenantProvider) GetActivitiesWithParams(ctx context.Context, params ActivityQueryParams) ([]domain.Activity, error) {
	return t.inner.GetActivitiesWithParams(ctx, params)
}

func (t *TenantProvider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[ActivityItem], error) {
	return t.inner.GetActivitiesCursor(ctx, params)
}

func (t *TenantProvider) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	return t.inner.GetActivity(ctx, id)
}

func (t *TenantProvider) GetStats(ctx context.Context) (domain.Stats, error) {
	return t.inner.GetStats(ctx)
}

func (t *TenantProvider) GetPersonalRecords(ctx context.Context) ([]domain.PersonalRecord, error) {
	return t.inner.GetPersonalRecords(ctx)
}

func (t *TenantProvider) GetSleepSessions(ctx context.Context, start, end time.Time) ([]domain.SleepSession, error) {
	return t.inner.GetSleepSessions(ctx, start, end)
}

func (t *TenantProvider) GetLatestSleepSession(ctx context.Context) (domain.SleepSession, error) {
	return t.inner.GetLatestSleepSession(ctx)
}

func (t *TenantProvider) GetRecoveryMetrics(ctx context.Context, start, end time.Time) ([]domain.RecoveryScore, error) {
	return t.inner.GetRecoveryMetrics(ctx, start, end)
}

func (t *TenantProvider) GetHealthMetrics(ctx context.Context, start, end time.Time) ([]domain.HealthMetrics, error) {
	return t.inner.GetHealthMetrics(ctx, start, end)
}

func (t *TenantProvider) Disconnect(ctx context.Context) error {
	logger.Infof("disconnecting provider %s in tenant %s for user %s", t.Name(), t.tenantID, t.userID)
	return t.inner.Disconnect(ctx)
}

var _ FitnessProvider = (*TenantProvider)(nil)
