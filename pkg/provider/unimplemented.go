package provider

import (
	"context"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
)

// UnimplementedOptional is embedded by provider integrations that do not
// support one or more capability-gated operations. Each method returns
// UnsupportedFeature, matching original_source's default trait-method
// bodies (providers/core.rs's get_sleep_sessions/get_recovery_metrics/
// get_health_metrics defaults). A provider overrides only the methods it
// actually supports.
type UnimplementedOptional struct {
	ProviderName string
}

func (u UnimplementedOptional) unsupported(feature string) error {
	return apperr.New(apperr.KindUnsupportedFeature, "provider does not support "+feature).
		WithData(map[string]any{"provider": u.ProviderName, "feature": feature})
}

// GetSleepSessions implements the optional sleep capability as unsupported.
func (u UnimplementedOptional) GetSleepSessions(context.Context, time.Time, time.Time) ([]domain.SleepSession, error) {
	return nil, u.unsupported("sleep_sessions")
}

// GetLatestSleepSession implements the optional sleep capability as unsupported.
func (u UnimplementedOptional) GetLatestSleepSession(context.Context) (domain.SleepSession, error) {
	return domain.SleepSession{}, u.unsupported("latest_sleep_session")
}

// GetRecoveryMetrics implements the optional recovery capability as unsupported.
func (u UnimplementedOptional) GetRecoveryMetrics(context.Context, time.Time, time.Time) ([]domain.RecoveryScore, error) {
	return nil, u.unsupported("recovery_metrics")
}

// GetHealthMetrics implements the optional health capability as unsupported.
func (u UnimplementedOptional) GetHealthMetrics(context.Context, time.Time, time.Time) ([]domain.HealthMetrics, error) {
	return nil, u.unsupported("health_metrics")
}
