// Package terra implements the Terra integration. Unlike the direct
// providers, Terra aggregates 150+ wearables behind one webhook-fed API:
// data arrives via webhook push rather than being pulled on demand, so
// this provider reads from an in-process cache populated by
// IngestActivity/IngestSleepSession/IngestRecoveryScore/
// IngestHealthMetrics rather than issuing outbound HTTP calls per
// FitnessProvider method. Grounded directly on original_source's
// TerraProvider (providers/terra/provider.rs): "This provider reads from
// a local cache populated by the webhook handler, effectively bridging
// Terra's push model to Pierre's pull model." Terra advertises every
// capability (ProviderCapabilities::full_health() in the source),
// matching its role as the universal fallback at the bottom of both
// auto-select priority lists in spec.md §4.6.
package terra

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/pagination"
	"github.com/stacklok/fedmcp/pkg/provider"
)

// Name is the registry key this provider registers under.
const Name = "terra"

// Descriptor is the static registration metadata for Terra.
func Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Name:        Name,
		DisplayName: "Terra (150+ wearables)",
		Capabilities: map[domain.Capability]bool{
			domain.CapabilityActivities:     true,
			domain.CapabilitySleep:          true,
			domain.CapabilityRecovery:       true,
			domain.CapabilityHealth:         true,
			domain.CapabilityPersonalRecord: true,
		},
		AuthURL:        "https://widget.tryterra.co/session",
		TokenURL:       "https://api.tryterra.co/v2/auth/token",
		RevokeURL:      "https://api.tryterra.co/v2/auth/deauthenticateUser",
		APIBaseURL:     "https://api.tryterra.co/v2",
		DefaultScopes:  []string{"activity", "sleep", "body", "daily", "nutrition"},
		ScopeSeparator: ",",
		RequiresOAuth:  true,
		UsesPKCE:       false,
	}
}

// DefaultConfig derives the runtime ProviderConfig from Descriptor.
func DefaultConfig() domain.ProviderConfig {
	d := Descriptor()
	return domain.ProviderConfig{
		Name: d.Name, AuthURL: d.AuthURL, TokenURL: d.TokenURL, RevokeURL: d.RevokeURL,
		APIBaseURL: d.APIBaseURL, Scopes: d.DefaultScopes, ScopeSeparator: d.ScopeSeparator, UsesPKCE: d.UsesPKCE,
	}
}

// WebhookCache holds the webhook-delivered data for every Terra user,
// shared across every Provider instance constructed for this process.
// Grounded on original_source's TerraDataCache (providers/terra/cache.rs,
// not included in the retrieval pack, but referenced throughout
// provider.rs and api_client.rs).
type WebhookCache struct {
	mu         sync.RWMutex
	activities map[string][]domain.Activity
	sleep      map[string][]domain.SleepSession
	recovery   map[string][]domain.RecoveryScore
	health     map[string][]domain.HealthMetrics
}

// NewWebhookCache constructs an empty cache. One instance is shared by
// the registry factory across every tenant/user Terra provider.
func NewWebhookCache() *WebhookCache {
	return &WebhookCache{
		activities: make(map[string][]domain.Activity),
		sleep:      make(map[string][]domain.SleepSession),
		recovery:   make(map[string][]domain.RecoveryScore),
		health:     make(map[string][]domain.HealthMetrics),
	}
}

// IngestActivity records a webhook-delivered activity for terraUserID.
func (c *WebhookCache) IngestActivity(terraUserID string, activity domain.Activity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activities[terraUserID] = append(c.activities[terraUserID], activity)
}

// IngestSleepSession records a webhook-delivered sleep session.
func (c *WebhookCache) IngestSleepSession(terraUserID string, session domain.SleepSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleep[terraUserID] = append(c.sleep[terraUserID], session)
}

// IngestRecoveryScore records a webhook-delivered recovery score.
func (c *WebhookCache) IngestRecoveryScore(terraUserID string, score domain.RecoveryScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recovery[terraUserID] = append(c.recovery[terraUserID], score)
}

// IngestHealthMetrics records a webhook-delivered health snapshot.
func (c *WebhookCache) IngestHealthMetrics(terraUserID string, metrics domain.HealthMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health[terraUserID] = append(c.health[terraUserID], metrics)
}

func (c *WebhookCache) getActivities(terraUserID string) []domain.Activity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Activity, len(c.activities[terraUserID]))
	copy(out, c.activities[terraUserID])
	return out
}

func (c *WebhookCache) getSleep(terraUserID string, start, end time.Time) []domain.SleepSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.SleepSession
	for _, s := range c.sleep[terraUserID] {
		if !s.StartTime.Before(start) && !s.StartTime.After(end) {
			out = append(out, s)
		}
	}
	return out
}

func (c *WebhookCache) getRecovery(terraUserID string) []domain.RecoveryScore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.RecoveryScore, len(c.recovery[terraUserID]))
	copy(out, c.recovery[terraUserID])
	return out
}

func (c *WebhookCache) getHealth(terraUserID string, start, end time.Time) []domain.HealthMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.HealthMetrics
	for _, m := range c.health[terraUserID] {
		if !m.RecordedAt.Before(start) && !m.RecordedAt.After(end) {
			out = append(out, m)
		}
	}
	return out
}

// Provider is the Terra FitnessProvider implementation. Its credentials
// are a Terra user ID, not an OAuth bearer token: SetCredentials stores
// creds.AccessToken as the Terra user ID, matching original_source's
// set_credentials comment ("the access_token field stores the Terra
// user ID").
type Provider struct {
	config domain.ProviderConfig
	cache  *WebhookCache

	mu          sync.RWMutex
	terraUserID string
}

// New constructs a Terra provider.Factory bound to cache. The registry
// wires one shared *WebhookCache across every Terra instance it
// constructs, since the webhook handler (outside this provider) ingests
// into the same cache regardless of which tenant/user is asking.
func New(cache *WebhookCache) provider.Factory {
	return func(cfg domain.ProviderConfig) (provider.FitnessProvider, error) {
		return &Provider{config: cfg, cache: cache}, nil
	}
}

func (p *Provider) Name() string                  { return Name }
func (p *Provider) Config() domain.ProviderConfig { return p.config }

func (p *Provider) SetCredentials(_ context.Context, creds provider.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terraUserID = creds.AccessToken
	return nil
}

func (p *Provider) IsAuthenticated(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.terraUserID != ""
}

// RefreshTokenIfNeeded is a no-op: Terra uses a long-lived user ID plus
// API key, not an expiring OAuth token, matching original_source's
// comment ("Terra uses API keys, not OAuth tokens that need refreshing").
func (p *Provider) RefreshTokenIfNeeded(context.Context) error { return nil }

func (p *Provider) userID() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.terraUserID == "" {
		return "", apperr.New(apperr.KindAuthenticationRequired, "terra: user ID not set; call SetCredentials first")
	}
	return p.terraUserID, nil
}

func (p *Provider) GetAthlete(_ context.Context) (domain.Athlete, error) {
	uid, err := p.userID()
	if err != nil {
		return domain.Athlete{}, err
	}
	return domain.Athlete{ID: uid, Provider: Name, Username: uid}, nil
}

func sortByStartDesc(activities []domain.Activity) {
	sort.Slice(activities, func(i, j int) bool { return activities[i].StartTime.After(activities[j].StartTime) })
}

func (p *Provider) GetActivitiesWithParams(_ context.Context, params provider.ActivityQueryParams) ([]domain.Activity, error) {
	uid, err := p.userID()
	if err != nil {
		return nil, err
	}
	activities := p.cache.getActivities(uid)
	sortByStartDesc(activities)

	offset := params.Offset
	if offset > len(activities) {
		offset = len(activities)
	}
	activities = activities[offset:]
	if params.Limit > 0 && params.Limit < len(activities) {
		activities = activities[:params.Limit]
	}
	return activities, nil
}

// GetActivitiesCursor reproduces original_source's cursor search: sort
// descending by start date, locate the cursor's ID, and page from the
// position just past it.
func (p *Provider) GetActivitiesCursor(_ context.Context, params pagination.Params) (pagination.Page[provider.ActivityItem], error) {
	uid, err := p.userID()
	if err != nil {
		return pagination.Page[provider.ActivityItem]{}, err
	}
	activities := p.cache.getActivities(uid)
	sortByStartDesc(activities)

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	startIndex := 0
	if params.Cursor != "" {
		cursor, cerr := pagination.Decode(params.Cursor)
		if cerr == nil {
			for i, a := range activities {
				if a.ID == cursor.ID {
					startIndex = i + 1
					break
				}
			}
		}
	}

	if startIndex > len(activities) {
		startIndex = len(activities)
	}
	end := startIndex + limit + 1 // +1 lets BuildPage detect HasMore without a second fetch.
	if end > len(activities) {
		end = len(activities)
	}
	return pagination.BuildPage(provider.WrapActivities(activities[startIndex:end]), limit), nil
}

func (p *Provider) GetActivity(_ context.Context, id string) (domain.Activity, error) {
	uid, err := p.userID()
	if err != nil {
		return domain.Activity{}, err
	}
	for _, a := range p.cache.getActivities(uid) {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Activity{}, apperr.New(apperr.KindNotFound, "terra: activity not found").
		WithData(map[string]any{"activity_id": id})
}

func (p *Provider) GetStats(_ context.Context) (domain.Stats, error) {
	uid, err := p.userID()
	if err != nil {
		return domain.Stats{}, err
	}
	activities := p.cache.getActivities(uid)
	var stats domain.Stats
	stats.TotalActivities = len(activities)
	for _, a := range activities {
		stats.TotalDurationSecs += a.DurationSecs
		if a.DistanceM != nil {
			stats.TotalDistanceM += *a.DistanceM
		}
		if a.ElevationM != nil {
			stats.TotalElevationM += *a.ElevationM
		}
	}
	return stats, nil
}

// GetPersonalRecords always returns empty: Terra aggregates raw provider
// data and does not compute personal records itself, matching
// original_source verbatim ("Terra doesn't provide personal records
// directly").
func (p *Provider) GetPersonalRecords(context.Context) ([]domain.PersonalRecord, error) {
	return []domain.PersonalRecord{}, nil
}

func (p *Provider) GetSleepSessions(_ context.Context, start, end time.Time) ([]domain.SleepSession, error) {
	uid, err := p.userID()
	if err != nil {
		return nil, err
	}
	return p.cache.getSleep(uid, start, end), nil
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (domain.SleepSession, error) {
	sessions, err := p.GetSleepSessions(ctx, time.Now().Add(-24*365*time.Hour), time.Now())
	if err != nil {
		return domain.SleepSession{}, err
	}
	if len(sessions) == 0 {
		return domain.SleepSession{}, apperr.New(apperr.KindNotFound, "terra: no sleep session available")
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.StartTime.After(latest.StartTime) {
			latest = s
		}
	}
	return latest, nil
}

func (p *Provider) GetRecoveryMetrics(_ context.Context, _, _ time.Time) ([]domain.RecoveryScore, error) {
	uid, err := p.userID()
	if err != nil {
		return nil, err
	}
	return p.cache.getRecovery(uid), nil
}

func (p *Provider) GetHealthMetrics(_ context.Context, start, end time.Time) ([]domain.HealthMetrics, error) {
	uid, err := p.userID()
	if err != nil {
		return nil, err
	}
	return p.cache.getHealth(uid, start, end), nil
}

func (p *Provider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terraUserID = ""
	return nil
}

var _ provider.FitnessProvider = (*Provider)(nil)
