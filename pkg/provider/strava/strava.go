// Package strava implements the Strava integration: activities and
// personal records only. Strava exposes no sleep/recovery/health API,
// so those capabilities fall through to provider.UnimplementedOptional,
// grounded on original_source's StravaProvider (providers/strava.rs).
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/pagination"
	"github.com/stacklok/fedmcp/pkg/provider"
)

// Name is the registry key this provider registers under.
const Name = "strava"

// Descriptor is the static registration metadata for Strava. Strava has
// no sleep, recovery, or health API, so only activities and personal
// records are advertised (personal_records is advertised for API
// uniformity even though GetPersonalRecords always returns empty, per
// original_source's get_personal_records comment: "Strava API does not
// provide direct PR endpoints").
func Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Name:        Name,
		DisplayName: "Strava",
		Capabilities: map[domain.Capability]bool{
			domain.CapabilityActivities:     true,
			domain.CapabilityPersonalRecord: true,
		},
		AuthURL:        "https://www.strava.com/oauth/authorize",
		TokenURL:       "https://www.strava.com/oauth/token",
		APIBaseURL:     "https://www.strava.com/api/v3",
		DefaultScopes:  []string{"read", "activity:read_all"},
		ScopeSeparator: ",",
		RequiresOAuth:  true,
		UsesPKCE:       false,
	}
}

// DefaultConfig derives the runtime ProviderConfig from Descriptor.
func DefaultConfig() domain.ProviderConfig {
	d := Descriptor()
	return domain.ProviderConfig{
		Name:           d.Name,
		AuthURL:        d.AuthURL,
		TokenURL:       d.TokenURL,
		APIBaseURL:     d.APIBaseURL,
		Scopes:         d.DefaultScopes,
		ScopeSeparator: d.ScopeSeparator,
		UsesPKCE:       d.UsesPKCE,
	}
}

// Provider is the Strava FitnessProvider implementation. One instance is
// constructed per (tenant, user) pair by the registry factory.
type Provider struct {
	provider.UnimplementedOptional

	client *http.Client
	config domain.ProviderConfig

	mu          sync.RWMutex
	accessToken string
}

// New is the provider.Factory for Strava.
func New(cfg domain.ProviderConfig) (provider.FitnessProvider, error) {
	return &Provider{
		UnimplementedOptional: provider.UnimplementedOptional{ProviderName: Name},
		client:                &http.Client{Timeout: 15 * time.Second},
		config:                cfg,
	}, nil
}

func (p *Provider) Name() string                  { return Name }
func (p *Provider) Config() domain.ProviderConfig { return p.config }

// SetCredentials stores only the access token: client ID/secret live in
// tenant config, and refresh is centralized in the token manager, which
// calls SetCredentials again with the refreshed token rather than asking
// the provider to refresh itself.
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

// RefreshTokenIfNeeded is a no-op: expiry-driven refresh is owned by the
// token manager (C7), which updates this provider via SetCredentials.
func (p *Provider) RefreshTokenIfNeeded(context.Context) error { return nil }

func (p *Provider) token() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.accessToken == "" {
		return "", apperr.New(apperr.KindAuthenticationRequired, "strava: not authenticated")
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
		return nil, apperr.Wrap(apperr.KindInternal, "strava: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderAPIError, "strava: request failed", err)
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
		return nil, apperr.New(apperr.KindTokenExpired, "strava: access token rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.New(apperr.KindProviderRateLimited, "strava: rate limited")
	case resp.StatusCode >= 400:
		return nil, apperr.New(apperr.KindProviderAPIError, fmt.Sprintf("strava: api error, status %d", resp.StatusCode))
	}
	return body, nil
}

type stravaAthlete struct {
	ID        uint64 `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Profile   string `json:"profile"`
}

func (p *Provider) GetAthlete(ctx context.Context) (domain.Athlete, error) {
	raw, err := p.get(ctx, "/athlete", nil)
	if err != nil {
		return domain.Athlete{}, err
	}
	var a stravaAthlete
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Athlete{}, apperr.Wrap(apperr.KindProviderParseError, "strava: parse athlete", err)
	}
	return domain.Athlete{
		ID:             strconv.FormatUint(a.ID, 10),
		Provider:       Name,
		Username:       a.Username,
		FirstName:      a.Firstname,
		LastName:       a.Lastname,
		ProfilePicture: a.Profile,
	}, nil
}

type stravaActivity struct {
	ID                  uint64   `json:"id"`
	Name                string   `json:"name"`
	Type                string   `json:"type"`
	StartDate           string   `json:"start_date"`
	ElapsedTime         int      `json:"elapsed_time"`
	Distance            *float64 `json:"distance"`
	TotalElevationGain  *float64 `json:"total_elevation_gain"`
	AverageSpeed        *float64 `json:"average_speed"`
	AverageHeartrate    *float64 `json:"average_heartrate"`
	AverageWatts        *float64 `json:"average_watts"`
	AverageCadence      *float64 `json:"average_cadence"`
	StartLatlng         []float64 `json:"start_latlng"`
	LocationCity        string   `json:"location_city"`
}

func roundPtr(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(*f + 0.5)
	return &v
}

func toActivity(s stravaActivity) domain.Activity {
	start, _ := time.Parse(time.RFC3339, s.StartDate)

	sport := domain.SportOther
	other := s.Type
	switch strings.ToLower(s.Type) {
	case "run":
		sport, other = domain.SportRun, ""
	case "ride":
		sport, other = domain.SportRide, ""
	case "swim":
		sport, other = domain.SportSwim, ""
	case "walk":
		sport, other = domain.SportWalk, ""
	case "hike":
		sport, other = domain.SportHike, ""
	case "workout":
		sport, other = domain.SportWorkout, ""
	}

	var gps []domain.GPSPoint
	var location string
	if len(s.StartLatlng) >= 2 {
		gps = []domain.GPSPoint{{Lat: s.StartLatlng[0], Lng: s.StartLatlng[1]}}
	}
	location = s.LocationCity

	return domain.Activity{
		ID:             strconv.FormatUint(s.ID, 10),
		Provider:       Name,
		Name:           s.Name,
		Sport:          sport,
		OtherSportName: other,
		StartTime:      start,
		DurationSecs:   s.ElapsedTime,
		DistanceM:      s.Distance,
		ElevationM:     s.TotalElevationGain,
		AvgSpeedMps:    s.AverageSpeed,
		AvgHR:          roundPtr(s.AverageHeartrate),
		AvgPowerW:      roundPtr(s.AverageWatts),
		AvgCadence:     roundPtr(s.AverageCadence),
		GPSRoute:       gps,
		Location:       location,
	}
}

func (p *Provider) GetActivitiesWithParams(ctx context.Context, params provider.ActivityQueryParams) ([]domain.Activity, error) {
	perPage := params.Limit
	if perPage <= 0 {
		perPage = 30
	}
	page := params.Offset/perPage + 1

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	if params.Before != nil {
		q.Set("before", strconv.FormatInt(*params.Before, 10))
	}
	if params.After != nil {
		q.Set("after", strconv.FormatInt(*params.After, 10))
	}

	raw, err := p.get(ctx, "/athlete/activities", q)
	if err != nil {
		return nil, err
	}
	var activities []stravaActivity
	if err := json.Unmarshal(raw, &activities); err != nil {
		return nil, apperr.Wrap(apperr.KindProviderParseError, "strava: parse activities", err)
	}

	out := make([]domain.Activity, len(activities))
	for i, a := range activities {
		out[i] = toActivity(a)
	}
	return out, nil
}

// GetActivitiesCursor emulates cursor pagination over Strava's native
// page/offset API: Strava has no cursor concept, so this delegates to
// GetActivitiesWithParams and synthesizes a page via
// pagination.EmulateFromOffset, matching original_source's
// get_activities_cursor ("delegates to offset-based approach",
// CursorPage::new(activities, None, None, false)).
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
	var a stravaActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Activity{}, apperr.Wrap(apperr.KindProviderParseError, "strava: parse activity", err)
	}
	return toActivity(a), nil
}

type stravaTotals struct {
	Count            int     `json:"count"`
	Distance         float64 `json:"distance"`
	MovingTime       int     `json:"moving_time"`
	ElevationGain    float64 `json:"elevation_gain"`
}

type stravaAthleteStats struct {
	AllRideTotals stravaTotals `json:"all_ride_totals"`
	AllRunTotals  stravaTotals `json:"all_run_totals"`
}

// GetStats tries Strava's dedicated athlete-stats endpoint first; on
// failure it falls back to summing up to 100 recent activities, matching
// original_source's get_stats fallback behavior.
func (p *Provider) GetStats(ctx context.Context) (domain.Stats, error) {
	athlete, err := p.GetAthlete(ctx)
	if err == nil {
		if raw, serr := p.get(ctx, "/athletes/"+athlete.ID+"/stats", nil); serr == nil {
			var s stravaAthleteStats
			if jerr := json.Unmarshal(raw, &s); jerr == nil {
				return domain.Stats{
					TotalActivities:   s.AllRideTotals.Count + s.AllRunTotals.Count,
					TotalDistanceM:    s.AllRideTotals.Distance + s.AllRunTotals.Distance,
					TotalDurationSecs: s.AllRideTotals.MovingTime + s.AllRunTotals.MovingTime,
					TotalElevationM:   s.AllRideTotals.ElevationGain + s.AllRunTotals.ElevationGain,
				}, nil
			}
		}
	}

	activities, ferr := p.GetActivitiesWithParams(ctx, provider.ActivityQueryParams{Limit: 100})
	if ferr != nil {
		return domain.Stats{}, ferr
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

// GetPersonalRecords always returns an empty slice: the Strava API has
// no direct personal-records endpoint (it would require analyzing every
// activity's segment efforts), matching original_source verbatim.
func (p *Provider) GetPersonalRecords(context.Context) ([]domain.PersonalRecord, error) {
	return []domain.PersonalRecord{}, nil
}

func (p *Provider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = ""
	return nil
}

var _ provider.FitnessProvider = (*Provider)(nil)
