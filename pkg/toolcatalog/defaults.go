package toolcatalog

import "github.com/stacklok/fedmcp/pkg/domain"

// DefaultCatalog is the built-in tool catalog every fresh deployment
// seeds: the same nine tools pkg/dispatch registers handlers for.
// Recovery/analysis tools that combine multiple upstream calls are
// gated to starter and above; raw data access stays available on trial
// so a new tenant can see the product work before upgrading.
var DefaultCatalog = []domain.ToolCatalogEntry{
	{
		ToolName:           "get_athlete",
		DisplayName:        "Get Athlete Profile",
		Description:        "Fetches the connected athlete's profile from their fitness provider.",
		Category:           domain.CategoryDataAccess,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanTrial,
	},
	{
		ToolName:           "get_activities",
		DisplayName:        "List Activities",
		Description:        "Lists recent activities, optionally with full per-activity detail.",
		Category:           domain.CategoryDataAccess,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanTrial,
	},
	{
		ToolName:           "get_activity",
		DisplayName:        "Get Activity",
		Description:        "Fetches a single activity by id.",
		Category:           domain.CategoryDataAccess,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanTrial,
	},
	{
		ToolName:           "get_stats",
		DisplayName:        "Get Athlete Stats",
		Description:        "Fetches aggregate lifetime/recent stats for the connected athlete.",
		Category:           domain.CategoryDataAccess,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanTrial,
	},
	{
		ToolName:           "get_personal_records",
		DisplayName:        "Get Personal Records",
		Description:        "Fetches personal-best efforts across tracked activity types.",
		Category:           domain.CategoryAnalysis,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanStarter,
	},
	{
		ToolName:           "get_sleep_sessions",
		DisplayName:        "Get Sleep Sessions",
		Description:        "Lists recent sleep sessions for providers with sleep-tracking capability.",
		Category:           domain.CategoryHealth,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanTrial,
	},
	{
		ToolName:           "get_latest_sleep_session",
		DisplayName:        "Get Latest Sleep Session",
		Description:        "Fetches only the most recent sleep session.",
		Category:           domain.CategoryHealth,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanTrial,
	},
	{
		ToolName:           "get_health_metrics",
		DisplayName:        "Get Health Metrics",
		Description:        "Fetches health-metric snapshots such as weight, body fat and resting heart rate.",
		Category:           domain.CategoryHealth,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanStarter,
	},
	{
		ToolName:           "calculate_recovery_score",
		DisplayName:        "Calculate Recovery Score",
		Description:        "Combines training load from activities with sleep and HRV data, from one or two providers, into a single recovery score.",
		Category:           domain.CategoryRecommendation,
		IsEnabledByDefault: true,
		MinPlan:            domain.PlanProfessional,
	},
}
