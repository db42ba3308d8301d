package domain

// ToolCategory groups catalog entries for summary reporting.
type ToolCategory string

// The closed set of tool categories.
const (
	CategoryDataAccess     ToolCategory = "data_access"
	CategoryAnalysis       ToolCategory = "analysis"
	CategoryRecommendation ToolCategory = "recommendation"
	CategoryHealth         ToolCategory = "health"
	CategoryUtility        ToolCategory = "utility"
)

// ToolCatalogEntry is a globally-scoped tool definition, seeded at
// deploy time and rarely mutated.
type ToolCatalogEntry struct {
	ToolName          string
	DisplayName       string
	Description       string
	Category          ToolCategory
	IsEnabledByDefault bool
	MinPlan           Plan
}

// TenantToolOverride records a tenant's explicit enablement decision for
// one tool, overriding the catalog default.
type TenantToolOverride struct {
	TenantID      string
	ToolName      string
	IsEnabled     bool
	SetByAdminID  string
	Reason        string
}

// EffectiveToolSource records which precedence tier decided a tool's
// final enablement.
type EffectiveToolSource string

// The four precedence tiers, in the fixed evaluation order.
const (
	SourceGlobalDisabled  EffectiveToolSource = "global_disabled"
	SourcePlanRestriction EffectiveToolSource = "plan_restriction"
	SourceTenantOverride  EffectiveToolSource = "tenant_override"
	SourceDefault         EffectiveToolSource = "default"
)

// EffectiveTool is the derived (tenant, tool) enablement decision.
type EffectiveTool struct {
	ToolName    string
	DisplayName string
	Description string
	Category    ToolCategory
	IsEnabled   bool
	Source      EffectiveToolSource
	MinPlan     Plan
}
