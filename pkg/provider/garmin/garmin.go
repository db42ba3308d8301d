// Package garmin implements the Garmin Connect integration: activities,
// sleep, recovery, health, and personal records — the fullest capability
// set among the direct (non-aggregator) providers, grounded on
// spec.md §4.6's priority lists (garmin leads both the activities and
// sleep auto-select orders after strava/whoop respectively) and on
// original_source's generic FitnessProvider trait (providers/core.rs)
// for the method shapes, since no Garmin-specific Rust source is present
// in the retrieval pack. Field names follow Garmin Connect's published
// Health API naming.
package garmin

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
const Name = "garmin"

// Descriptor is the static registration metadata for Garmin.
func Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Name:        Name,
		DisplayName: "Garmin Connect",
		Capabilities: map[domain.Capability]bool{
			domain.CapabilityActivities:     true,
			domain.CapabilitySleep:          true,
			domain.CapabilityRecovery:       true,
			domain.CapabilityHealth:         true,
			domain.CapabilityPersonalRecord: true,
		},
		AuthURL:        "https://connect.garmin.com/oauthConfirm",
		TokenURL:       "https://connectapi.garmin.com/oauth-service/oauth/token",
		APIBaseURL:     "https://apis.garmin.com/wellness-api/rest",
		DefaultScopes:  []string{"ACTIVITY_EXPORT", "HEALTH_EXPORT"},
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

// Provider is the Garmin FitnessProvider implementation.
type Provider struct {
	client *http.Client
	config domain.ProviderConfig

	mu          sync.RWMutex
	accessToken string
}

// New is the provider.Factory for Garmin.
func New(cfg domain.ProviderConfig) (provider.FitnessProvider, error) {
	return &Provider{client: &http.Client{Timeout: 15 * time.Second}, config: cfg}, nil
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

// RefreshTokenIfNeeded is a no-op: refresh is centralized in the token manager.
func (p *Provider) RefreshTokenIfNeeded(context.Context) error { return nil }

func (p *Provider) token() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.accessToken == "" {
		return "", apperr.New(apperr.KindAuthenticationRequired, "garmin: not authenticated")
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
		return nil, apperr.Wrap(apperr.KindInternal, "garmin: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderAPIError, "garmin: request failed", err)
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
		return nil, apperr.New(apperr.KindTokenExpired, "garmin: access token rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.New(apperr.KindProviderRateLimited, "garmin: rate limited")
	case resp.StatusCode >= 400:
		return nil, apperr.Wrap(apperr.KindProviderAPIError, "garmin: api error", apperr.New(apperr.KindInternal, http.StatusText(resp.StatusCode)))
	}
	return body, nil
}

// GetAthlete returns the Garmin user id only; name and picture stay empty.
func (p *Provider) GetAthlete(ctx context.Context) (domain.Athlete, error) {
	raw, err := p.get(ctx, "/user/id", nil)
	if err != nil {
		return domain.Athlete{}, err
	}
	var u struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.Athlete{}, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse user id", err)
	}
	return domain.Athlete{ID: u.UserID, Provider: Name, Username: u.UserID}, nil
}

type garminActivity struct {
	ActivityID       uint64  `json:"activityId"`
	ActivityName     string  `json:"activityName"`
	ActivityType     string  `json:"activityType"`
	StartTimeLocal   string  `json:"startTimeLocal"`
	DurationInSecs   int     `json:"durationInSeconds"`
	DistanceInMeters float64 `json:"distanceInMeters"`
	ElevationGainM   float64 `json:"elevationGainInMeters"`
	AverageHR        *int    `json:"averageHeartRateInBeatsPerMinute"`
	AveragePowerW    *int    `json:"averagePowerInWatts"`
	AverageCadence   *int    `json:"averageRunCadenceInStepsPerMinute"`
}

func toActivity(a garminActivity) domain.Activity {
	start, _ := time.Parse(time.RFC3339, a.StartTimeLocal)
	sport := mapSport(a.ActivityType)
	dist := a.DistanceInMeters
	elev := a.ElevationGainM
	return domain.Activity{
		ID:           strconv.FormatUint(a.ActivityID, 10),
		Provider:     Name,
		Name:         a.ActivityName,
		Sport:        sport,
		StartTime:    start,
		DurationSecs: a.DurationInSecs,
		DistanceM:    &dist,
		ElevationM:   &elev,
		AvgHR:        a.AverageHR,
		AvgPowerW:    a.AveragePowerW,
		AvgCadence:   a.AverageCadence,
	}
}

func mapSport(raw string) domain.SportType {
	switch raw {
	case "RUNNING":
		return domain.SportRun
	case "CYCLING":
		return domain.SportRide
	case "SWIMMING":
		return domain.SportSwim
	case "WALKING":
		return domain.SportWalk
	case "HIKING":
		return domain.SportHike
	case "FITNESS_EQUIPMENT":
		return domain.SportWorkout
	default:
		return domain.SportOther
	}
}

func (p *Provider) GetActivitiesWithParams(ctx context.Context, params provider.ActivityQueryParams) ([]domain.Activity, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("start", strconv.Itoa(params.Offset))
	}
	raw, err := p.get(ctx, "/activities", q)
	if err != nil {
		return nil, err
	}
	var activities []garminActivity
	if err := json.Unmarshal(raw, &activities); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse activities", err)
	}
	out := make([]domain.Activity, len(activities))
	for i, a := range activities {
		out[i] = toActivity(a)
	}
	return out, nil
}

// GetActivitiesCursor emulates cursor pagination over Garmin's native
// offset/limit API, same approach as strava.
func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[provider.ActivityItem], error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 30
	}
	activities, err := p.GetActivitiesWithParams(ctx, provider.ActivityQueryParams{Limit: limit})
	if err != nil {
		return pagination.Page[provider.ActivityItem]{}, err
	}
	return pagination.EmulateFromOffset(provider.WrapActivities(activities), limit), nil
}

func (p *Provider) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	raw, err := p.get(ctx, "/activities/"+id, nil)
	if err != nil {
		return domain.Activity{}, err
	}
	var a garminActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Activity{}, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse activity", err)
	}
	return toActivity(a), nil
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
		if a.DistanceM != nil {
			stats.TotalDistanceM += *a.DistanceM
		}
		if a.ElevationM != nil {
			stats.TotalElevationM += *a.ElevationM
		}
	}
	return stats, nil
}

type garminPersonalRecord struct {
	ActivityType string  `json:"activityType"`
	TypeID       string  `json:"typeId"`
	Value        float64 `json:"value"`
	Unit         string  `json:"unit"`
	PrStartTime  string  `json:"prStartTimeLocal"`
}

func (p *Provider) GetPersonalRecords(ctx context.Context) ([]domain.PersonalRecord, error) {
	raw, err := p.get(ctx, "/personalRecords", nil)
	if err != nil {
		return nil, err
	}
	var records []garminPersonalRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse personal records", err)
	}
	out := make([]domain.PersonalRecord, len(records))
	for i, r := range records {
		achieved, _ := time.Parse(time.RFC3339, r.PrStartTime)
		out[i] = domain.PersonalRecord{ActivityType: r.ActivityType, Metric: r.TypeID, Value: r.Value, Unit: r.Unit, AchievedAt: achieved}
	}
	return out, nil
}

type garminSleepSession struct {
	SummaryID         string  `json:"summaryId"`
	StartTimeLocal    string  `json:"startTimeLocal"`
	EndTimeLocal      string  `json:"endTimeLocal"`
	SleepTimeSeconds  int     `json:"sleepTimeSeconds"`
	SleepScore        *int    `json:"overallSleepScore"`
	RespirationAvg    *float64 `json:"avgSleepRespirationValue"`
}

func (p *Provider) GetSleepSessions(ctx context.Context, start, end time.Time) ([]domain.SleepSession, error) {
	q := url.Values{"uploadStartTimeInSeconds": {strconv.FormatInt(start.Unix(), 10)}, "uploadEndTimeInSeconds": {strconv.FormatInt(end.Unix(), 10)}}
	raw, err := p.get(ctx, "/sleeps", q)
	if err != nil {
		return nil, err
	}
	var sessions []garminSleepSession
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse sleep sessions", err)
	}
	out := make([]domain.SleepSession, len(sessions))
	for i, s := range sessions {
		out[i] = toSleepSession(s)
	}
	return out, nil
}

func toSleepSession(s garminSleepSession) domain.SleepSession {
	startT, _ := time.Parse(time.RFC3339, s.StartTimeLocal)
	endT, _ := time.Parse(time.RFC3339, s.EndTimeLocal)
	return domain.SleepSession{
		ID: s.SummaryID, StartTime: startT, EndTime: endT,
		TotalSleepMins: s.SleepTimeSeconds / 60, SleepScore: s.SleepScore, RespiratoryRate: s.RespirationAvg,
	}
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (domain.SleepSession, error) {
	sessions, err := p.GetSleepSessions(ctx, time.Now().Add(-48*time.Hour), time.Now())
	if err != nil {
		return domain.SleepSession{}, err
	}
	if len(sessions) == 0 {
		return domain.SleepSession{}, apperr.New(apperr.KindNotFound, "garmin: no sleep session available")
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.StartTime.After(latest.StartTime) {
			latest = s
		}
	}
	return latest, nil
}

type garminStressSummary struct {
	CalendarDate string `json:"calendarDate"`
	OverallScore int    `json:"averageStressLevel"`
}

func (p *Provider) GetRecoveryMetrics(ctx context.Context, start, end time.Time) ([]domain.RecoveryScore, error) {
	q := url.Values{"startDate": {start.Format("2006-01-02")}, "endDate": {end.Format("2006-01-02")}}
	raw, err := p.get(ctx, "/dailies", q)
	if err != nil {
		return nil, err
	}
	var summaries []garminStressSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse recovery metrics", err)
	}
	out := make([]domain.RecoveryScore, len(summaries))
	for i, s := range summaries {
		out[i] = domain.RecoveryScore{
			OverallScore: 100 - s.OverallScore, Category: stressCategory(s.OverallScore),
			DataCompleteness: domain.DataCompletenessFull,
		}
	}
	return out, nil
}

func stressCategory(score int) string {
	switch {
	case score < 25:
		return "low"
	case score < 50:
		return "moderate"
	case score < 75:
		return "high"
	default:
		return "very_high"
	}
}

type garminBodyComposition struct {
	CalendarDate string   `json:"calendarDate"`
	WeightGrams  *float64 `json:"weightInGrams"`
	BodyFatPct   *float64 `json:"bodyFatPercentage"`
	RestingHR    *int     `json:"restingHeartRateInBeatsPerMinute"`
}

func (p *Provider) GetHealthMetrics(ctx context.Context, start, end time.Time) ([]domain.HealthMetrics, error) {
	q := url.Values{"startDate": {start.Format("2006-01-02")}, "endDate": {end.Format("2006-01-02")}}
	raw, err := p.get(ctx, "/bodyComps", q)
	if err != nil {
		return nil, err
	}
	var comps []garminBodyComposition
	if err := json.Unmarshal(raw, &comps); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "garmin: parse health metrics", err)
	}
	out := make([]domain.HealthMetrics, len(comps))
	for i, c := range comps {
		recorded, _ := time.Parse("2006-01-02", c.CalendarDate)
		var weightKg *float64
		if c.WeightGrams != nil {
			kg := *c.WeightGrams / 1000
			weightKg = &kg
		}
		out[i] = domain.HealthMetrics{RecordedAt: recorded, WeightKg: weightKg, BodyFatPct: c.BodyFatPct, RestingHR: c.RestingHR}
	}
	return out, nil
}

func (p *Provider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = ""
	return nil
}

var _ provider.FitnessProvider = (*Provider)(nil)
