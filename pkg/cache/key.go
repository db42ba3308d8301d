package cache

import "fmt"

// Key is a structured cache key: two requests for the same resource
// under the same tenant/user/provider MUST format to the same string,
// and no two distinct (tenant, user) pairs may format to the same
// string (spec §3, §4.1).
type Key struct {
	TenantID string
	UserID   string
	Provider string
	Resource string
}

// String formats the key deterministically:
// tenant:{T}:user:{U}:provider:{P}:{resource}.
func (k Key) String() string {
	return fmt.Sprintf("tenant:%s:user:%s:provider:%s:%s", k.TenantID, k.UserID, k.Provider, k.Resource)
}

// AthleteProfileResource formats the resource segment for an athlete
// profile lookup.
func AthleteProfileResource() string { return "athlete_profile" }

// ActivityListResource formats the resource segment for a paginated
// activity list lookup; two calls with identical parameters MUST
// produce byte-equal resource strings.
func ActivityListResource(page, perPage int, before, after string) string {
	return fmt.Sprintf("activity_list:page=%d:per_page=%d:before=%s:after=%s", page, perPage, before, after)
}

// ActivityResource formats the resource segment for a single activity.
func ActivityResource(activityID string) string {
	return fmt.Sprintf("activity:%s", activityID)
}

// DetailedActivityResource formats the resource segment for a detailed
// single-activity lookup.
func DetailedActivityResource(activityID string) string {
	return fmt.Sprintf("detailed_activity:%s", activityID)
}

// StatsResource formats the resource segment for an athlete's stats.
func StatsResource(athleteID string) string {
	return fmt.Sprintf("stats:%s", athleteID)
}

// PersonalRecordsResource formats the resource segment for the personal
// records list.
func PersonalRecordsResource() string { return "personal_records" }

// SleepSessionsResource formats the resource segment for a sleep-session
// range lookup.
func SleepSessionsResource(start, end string) string {
	return fmt.Sprintf("sleep_sessions:start=%s:end=%s", start, end)
}

// LatestSleepSessionResource formats the resource segment for the most
// recent sleep session.
func LatestSleepSessionResource() string { return "latest_sleep_session" }

// RecoveryMetricsResource formats the resource segment for a recovery
// metrics range lookup.
func RecoveryMetricsResource(start, end string) string {
	return fmt.Sprintf("recovery_metrics:start=%s:end=%s", start, end)
}

// HealthMetricsResource formats the resource segment for a health
// metrics range lookup.
func HealthMetricsResource(start, end string) string {
	return fmt.Sprintf("health_metrics:start=%s:end=%s", start, end)
}

// TTLs per resource kind. These are fixed constants; no configuration
// or admin override changes them.
const (
	TTLProfile      = 24 * 3600 // seconds: 24h
	TTLActivityList = 15 * 60   // seconds: 15m
	TTLActivity     = 3600      // seconds: 1h
	TTLStats        = 6 * 3600  // seconds: 6h
	TTLHealthData   = 3600      // seconds: 1h, for sleep/recovery/health lookups
)

// TenantPattern builds the invalidate_pattern glob that removes every
// cache entry for a given tenant+provider across all users and
// resources (spec §4.1).
func TenantPattern(tenantID, provider string) string {
	return fmt.Sprintf("tenant:%s:*:provider:%s:*", tenantID, provider)
}

// UserPattern builds the invalidate_pattern glob scoped to one
// (tenant, user, provider) triple.
func UserPattern(tenantID, userID, provider string) string {
	return fmt.Sprintf("tenant:%s:user:%s:provider:%s:*", tenantID, userID, provider)
}
