// Package provider defines the uniform fitness-provider contract every
// upstream integration (Strava, Garmin, Fitbit, Whoop, Terra) implements,
// plus the registry that constructs and decorates provider instances.
// Grounded on original_source's FitnessProvider trait
// (providers/core.rs), translated to a Go interface with context-first
// methods and explicit error returns in place of async_trait + AppResult.
package provider

import (
	"context"
	"time"

	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/pagination"
)

// ActivityQueryParams mirrors original_source's ActivityQueryParams:
// offset/limit pagination plus an optional before/after Unix-timestamp
// range for providers (Strava) whose API supports server-side filtering.
type ActivityQueryParams struct {
	Limit  int
	Offset int
	Before *int64
	After  *int64
}

// Credentials is the OAuth2 material a provider instance is configured
// with before any authenticated call. Tokens are plaintext here — the
// dispatcher decrypts via pkg/crypto before calling SetCredentials, and
// the provider never persists them itself.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// FitnessProvider is the closed set of operations every integration
// exposes. Optional capability-gated methods (sleep/recovery/health) are
// declared here too, but providers that don't advertise the capability
// embed UnimplementedOptional to satisfy them with UnsupportedFeature.
type FitnessProvider interface {
	Name() string
	Config() domain.ProviderConfig

	SetCredentials(ctx context.Context, creds Credentials) error
	IsAuthenticated(ctx context.Context) bool
	RefreshTokenIfNeeded(ctx context.Context) error

	GetAthlete(ctx context.Context) (domain.Athlete, error)
	GetActivitiesWithParams(ctx context.Context, params ActivityQueryParams) ([]domain.Activity, error)
	GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[ActivityItem], error)
	GetActivity(ctx context.Context, id string) (domain.Activity, error)
	GetStats(ctx context.Context) (domain.Stats, error)
	GetPersonalRecords(ctx context.Context) ([]domain.PersonalRecord, error)

	GetSleepSessions(ctx context.Context, start, end time.Time) ([]domain.SleepSession, error)
	GetLatestSleepSession(ctx context.Context) (domain.SleepSession, error)
	GetRecoveryMetrics(ctx context.Context, start, end time.Time) ([]domain.RecoveryScore, error)
	GetHealthMetrics(ctx context.Context, start, end time.Time) ([]domain.HealthMetrics, error)

	Disconnect(ctx context.Context) error
}

// ActivityItem adapts domain.Activity to pagination.Item so provider
// implementations can build cursor pages directly over their native
// activity slice without a second conversion pass. Exported so concrete
// provider packages (strava, garmin, ...) can name it in their own
// GetActivitiesCursor signatures.
type ActivityItem struct {
	domain.Activity
}

// CursorTimestamp implements pagination.Item.
func (a ActivityItem) CursorTimestamp() time.Time { return a.StartTime }

// CursorID implements pagination.Item.
func (a ActivityItem) CursorID() string { return a.ID }

// WrapActivities adapts a []domain.Activity slice for cursor pagination.
func WrapActivities(activities []domain.Activity) []ActivityItem {
	items := make([]ActivityItem, len(activities))
	for i, a := range activities {
		items[i] = ActivityItem{a}
	}
	return items
}
