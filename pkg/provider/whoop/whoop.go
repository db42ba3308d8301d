// Package whoop implements the WHOOP integration: activities (cycles),
// sleep, and recovery — WHOOP's signature feature — but no health
// metrics and no personal records, grounded on spec.md §4.6's priority
// lists (whoop leads the sleep auto-select order, since recovery and
// sleep are WHOOP's core product) and on original_source's generic
// FitnessProvider trait (providers/core.rs) for the method shapes, since
// no WHOOP-specific Rust source is present in the retrieval pack. Field
// names follow the WHOOP API v1's published JSON shapes (cycles,
// recovery, sleep collections, each wrapping a nested "score" object).
package whoop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/pagination"
	"github.com/stacklok/fedmcp/pkg/provider"
)

// Name is the registry key this provider registers under.
const Name = "whoop"

// Descriptor is the static registration metadata for WHOOP.
func Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Name:        Name,
		DisplayName: "WHOOP",
		Capabilities: map[domain.Capability]bool{
			domain.CapabilityActivities: true,
			domain.CapabilitySleep:      true,
			domain.CapabilityRecovery:   true,
		},
		AuthURL:        "https://api.prod.whoop.com/oauth/oauth2/auth",
		TokenURL:       "https://api.prod.whoop.com/oauth/oauth2/token",
		APIBaseURL:     "https://api.prod.whoop.com/developer/v1",
		DefaultScopes:  []string{"read:cycles", "read:sleep", "read:recovery", "read:profile"},
		ScopeSeparator: " ",
		RequiresOAuth:  true,
		UsesPKCE:       false,
	}
}

// DefaultConfig derives the runtime ProviderConfig from Descriptor.
func DefaultConfig() domain.ProviderConfig {
	d := Descriptor()
	return domain.ProviderConfig{
		Name: d.Name, AuthURL: d.AuthURL, TokenURL: d.TokenURL, APIBaseURL: d.APIBaseURL,
		Scopes: d.DefaultScopes, ScopeSeparator: d.ScopeSeparator, UsesPKCE: d.UsesPKCE,
	}
}

// Provider is the WHOOP FitnessProvider implementation.
type Provider struct {
	provider.UnimplementedOptional

	client *http.Client
	config domain.ProviderConfig

	mu          sync.RWMutex
	accessToken string
}

// New is the provider.Factory for WHOOP.
func New(cfg domain.ProviderConfig) (provider.FitnessProvider, error) {
	return &Provider{
		UnimplementedOptional: provider.UnimplementedOptional{ProviderName: Name},
		client:                &http.Client{Timeout: 15 * time.Second},
		config:                cfg,
	}, nil
}

func (p *Provider) Name() string                  { return Name }
func (p *Provider) Config() domain.ProviderConfig { return p.config }

func (p *Provider) SetCredentials(_ context.Context, creds provider.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = creds.AccessToken
	return nil
}

func (p *Provider) IsAuthenticated(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accessToken != ""
}

func (p *Provider) RefreshTokenIfNeeded(context.Context) error { return nil }

func (p *Provider) token() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.accessToken == "" {
		return "", apperr.New(apperr.KindAuthenticationRequired, "whoop: not authenticated")
	}
	return p.accessToken, nil
}

func (p *Provider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := p.token()
	if err != nil {
		return nil, err
	}
	u := p.config.APIBaseURL + path
	if query != nil {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "whoop: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderAPIError, "whoop: request failed", err)
	}
	defer resp.Body.Close()

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if rerr != nil {
			break
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperr.New(apperr.KindTokenExpired, "whoop: access token rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.New(apperr.KindProviderRateLimited, "whoop: rate limited")
	case resp.StatusCode >= 400:
		return nil, apperr.New(apperr.KindProviderAPIError, "whoop: api error")
	}
	return body, nil
}

func (p *Provider) GetAthlete(ctx context.Context) (domain.Athlete, error) {
	raw, err := p.get(ctx, "/user/profile/basic", nil)
	if err != nil {
		return domain.Athlete{}, err
	}
	var u struct {
		UserID    uint64 `json:"user_id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.Athlete{}, apperr.Wrap(apperr.KindProviderParseError, "whoop: parse profile", err)
	}
	return domain.Athlete{ID: strconv.FormatUint(u.UserID, 10), Provider: Name, FirstName: u.FirstName, LastName: u.LastName}, nil
}

type whoopCollection[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

type whoopCycle struct {
	ID    uint64 `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	Score struct {
		Strain              float64 `json:"strain"`
		AverageHeartRate    *int    `json:"average_heart_rate"`
		KilojoulesBurned    float64 `json:"kilojoule"`
	} `json:"score"`
}

func (p *Provider) GetActivitiesWithParams(ctx context.Context, params provider.ActivityQueryParams) ([]domain.Activity, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 25
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	raw, err := p.get(ctx, "/cycle", q)
	if err != nil {
		return nil, err
	}
	var coll whoopCollection[whoopCycle]
	if err := json.Unmarshal(raw, &coll); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "whoop: parse cycles", err)
	}
	out := make([]domain.Activity, len(coll.Records))
	for i, c := range coll.Records {
		start, _ := time.Parse(time.RFC3339, c.Start)
		end, _ := time.Parse(time.RFC3339, c.End)
		duration := int(end.Sub(start).Seconds())
		out[i] = domain.Activity{
			ID: strconv.FormatUint(c.ID, 10), Provider: Name, Name: "WHOOP Cycle",
			Sport: domain.SportWorkout, StartTime: start, DurationSecs: duration,
			AvgHR: c.Score.AverageHeartRate,
		}
	}
	return out, nil
}

func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[provider.ActivityItem], error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 25
	}
	activities, err := p.GetActivitiesWithParams(ctx, provider.ActivityQueryParams{Limit: limit})
	if err != nil {
		return pagination.Page[provider.ActivityItem]{}, err
	}
	return pagination.EmulateFromOffset(provider.WrapActivities(activities), limit), nil
}

func (p *Provider) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	raw, err := p.get(ctx, "/cycle/"+id, nil)
	if err != nil {
		return domain.Activity{}, err
	}
	var c whoopCycle
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Activity{}, apperr.Wrap(apperr.KindProviderParseError, "whoop: parse cycle", err)
	}
	start, _ := time.Parse(time.RFC3339, c.Start)
	end, _ := time.Parse(time.RFC3339, c.End)
	return domain.Activity{
		ID: strconv.FormatUint(c.ID, 10), Provider: Name, Name: "WHOOP Cycle",
		Sport: domain.SportWorkout, StartTime: start, DurationSecs: int(end.Sub(start).Seconds()),
		AvgHR: c.Score.AverageHeartRate,
	}, nil
}

func (p *Provider) GetStats(ctx context.Context) (domain.Stats, error) {
	activities, err := p.GetActivitiesWithParams(ctx, provider.ActivityQueryParams{Limit: 100})
	if err != nil {
		return domain.Stats{}, err
	}
	var stats domain.Stats
	stats.TotalActivities = len(activities)
	for _, a := range activities {
		stats.TotalDurationSecs += a.DurationSecs
	}
	return stats, nil
}

// GetPersonalRecords: WHOOP's API exposes no personal-records concept.
func (p *Provider) GetPersonalRecords(context.Context) ([]domain.PersonalRecord, error) {
	return []domain.PersonalRecord{}, nil
}

type whoopSleep struct {
	ID    uint64 `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	Score struct {
		SleepEfficiencyPercentage float64 `json:"sleep_efficiency_percentage"`
		RespiratoryRate           float64 `json:"respiratory_rate"`
		StageSummary              struct {
			TotalInBedTimeMilli    int `json:"total_in_bed_time_milli"`
			TotalAwakeTimeMilli    int `json:"total_awake_time_milli"`
			TotalLightSleepMilli   int `json:"total_light_sleep_time_milli"`
			TotalSlowWaveSleepMilli int `json:"total_slow_wave_sleep_time_milli"`
			TotalRemSleepMilli     int `json:"total_rem_sleep_time_milli"`
			DisturbanceCount       int `json:"disturbance_count"`
		} `json:"stage_summary"`
	} `json:"score"`
}

func toSleepSession(s whoopSleep) domain.SleepSession {
	start, _ := time.Parse(time.RFC3339, s.Start)
	end, _ := time.Parse(time.RFC3339, s.End)
	total := (s.Score.StageSummary.TotalLightSleepMilli + s.Score.StageSummary.TotalSlowWaveSleepMilli + s.Score.StageSummary.TotalRemSleepMilli) / 60000
	rr := s.Score.RespiratoryRate
	return domain.SleepSession{
		ID: strconv.FormatUint(s.ID, 10), StartTime: start, EndTime: end,
		TotalSleepMins:    total,
		EfficiencyPercent: s.Score.SleepEfficiencyPercentage,
		RespiratoryRate:   &rr,
		WakeCount:         s.Score.StageSummary.DisturbanceCount,
		Stages: []domain.SleepStage{
			{Kind: domain.SleepStageLight, DurationMins: s.Score.StageSummary.TotalLightSleepMilli / 60000},
			{Kind: domain.SleepStageDeep, DurationMins: s.Score.StageSummary.TotalSlowWaveSleepMilli / 60000},
			{Kind: domain.SleepStageREM, DurationMins: s.Score.StageSummary.TotalRemSleepMilli / 60000},
			{Kind: domain.SleepStageAwake, DurationMins: s.Score.StageSummary.TotalAwakeTimeMilli / 60000},
		},
	}
}

func (p *Provider) GetSleepSessions(ctx context.Context, start, end time.Time) ([]domain.SleepSession, error) {
	q := url.Values{"start": {start.Format(time.RFC3339)}, "end": {end.Format(time.RFC3339)}}
	raw, err := p.get(ctx, "/activity/sleep", q)
	if err != nil {
		return nil, err
	}
	var coll whoopCollection[whoopSleep]
	if err := json.Unmarshal(raw, &coll); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "whoop: parse sleep", err)
	}
	out := make([]domain.SleepSession, len(coll.Records))
	for i, s := range coll.Records {
		out[i] = toSleepSession(s)
	}
	return out, nil
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (domain.SleepSession, error) {
	sessions, err := p.GetSleepSessions(ctx, time.Now().Add(-48*time.Hour), time.Now())
	if err != nil {
		return domain.SleepSession{}, err
	}
	if len(sessions) == 0 {
		return domain.SleepSession{}, apperr.New(apperr.KindNotFound, "whoop: no sleep session available")
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.StartTime.After(latest.StartTime) {
			latest = s
		}
	}
	return latest, nil
}

type whoopRecovery struct {
	CycleID uint64 `json:"cycle_id"`
	Created string `json:"created_at"`
	Score   struct {
		RecoveryScore         int     `json:"recovery_score"`
		HRVRmssdMilli         float64 `json:"hrv_rmssd_milli"`
		RestingHeartRate      int     `json:"resting_heart_rate"`
	} `json:"score"`
}

func (p *Provider) GetRecoveryMetrics(ctx context.Context, start, end time.Time) ([]domain.RecoveryScore, error) {
	q := url.Values{"start": {start.Format(time.RFC3339)}, "end": {end.Format(time.RFC3339)}}
	raw, err := p.get(ctx, "/recovery", q)
	if err != nil {
		return nil, err
	}
	var coll whoopCollection[whoopRecovery]
	if err := json.Unmarshal(raw, &coll); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "whoop: parse recovery", err)
	}
	out := make([]domain.RecoveryScore, len(coll.Records))
	for i, r := range coll.Records {
		out[i] = domain.RecoveryScore{
			OverallScore: r.Score.RecoveryScore, HRVWeight: r.Score.HRVRmssdMilli,
			Category: recoveryCategory(r.Score.RecoveryScore), TrainingReadiness: readiness(r.Score.RecoveryScore),
			DataCompleteness: domain.DataCompletenessFull,
		}
	}
	return out, nil
}

func recoveryCategory(score int) string {
	switch {
	case score >= 67:
		return "green"
	case score >= 34:
		return "yellow"
	default:
		return "red"
	}
}

func readiness(score int) string {
	switch {
	case score >= 67:
		return "ready_to_train"
	case score >= 34:
		return "moderate_caution"
	default:
		return "prioritize_recovery"
	}
}

func (p *Provider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = ""
	return nil
}

var _ provider.FitnessProvider = (*Provider)(nil)
