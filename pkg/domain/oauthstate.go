package domain

import "time"

// PendingOAuthState is the short-lived record linking an OAuth state
// value back to the user/tenant/provider that initiated the flow, plus
// the PKCE verifier when the provider uses PKCE.
type PendingOAuthState struct {
	State        string
	UserID       string
	TenantID     string
	ProviderName string
	CodeVerifier string // empty when the provider does not use PKCE
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// SystemSecret is a process-wide secret (e.g. the envelope-encryption
// master key) persisted so it survives process restarts.
type SystemSecret struct {
	Key   string
	Value string
}

// AdminConfigOverride is an admin-set configuration value scoped to
// either "system" or a specific tenant.
type AdminConfigOverride struct {
	Key   string
	Scope string // "system" or a tenant_id
	Value string
}

// ProviderSyncMarker records the last time a user's data was synced
// from a given provider.
type ProviderSyncMarker struct {
	UserID       string
	ProviderName string
	LastSyncedAt time.Time
}
