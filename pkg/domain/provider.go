package domain

import "time"

// Capability tags a data kind a provider can expose.
type Capability string

// The closed set of capabilities a provider descriptor may advertise.
const (
	CapabilityActivities     Capability = "activities"
	CapabilitySleep          Capability = "sleep"
	CapabilityRecovery       Capability = "recovery"
	CapabilityHealth         Capability = "health"
	CapabilityPersonalRecord Capability = "personal_records"
)

// ProviderDescriptor is static per-provider metadata: OAuth endpoints,
// API base URL, and the capability set. Descriptors are registered once
// at startup and never mutate (spec §4.2).
type ProviderDescriptor struct {
	Name           string
	DisplayName    string
	Capabilities   map[Capability]bool
	AuthURL        string
	TokenURL       string
	RevokeURL      string // optional, empty if the provider has none
	APIBaseURL     string
	DefaultScopes  []string
	ScopeSeparator string
	RequiresOAuth  bool
	UsesPKCE       bool
}

// HasCapability reports whether the descriptor advertises cap.
func (d ProviderDescriptor) HasCapability(cap Capability) bool {
	return d.Capabilities[cap]
}

// ProviderConfig is the runtime configuration derived from a descriptor
// plus environment/admin overrides. Immutable after registry construction.
type ProviderConfig struct {
	Name           string
	AuthURL        string
	TokenURL       string
	RevokeURL      string
	APIBaseURL     string
	Scopes         []string
	ScopeSeparator string
	UsesPKCE       bool
}

// TenantOAuthCredentials are a tenant's OAuth client registration with a
// single upstream provider. ClientSecret is expected to already be
// envelope-encrypted by the time it reaches storage.
type TenantOAuthCredentials struct {
	TenantID        string
	ProviderName    string
	ClientID        string
	ClientSecretEnc string
	RedirectURI     string
	Scopes          []string
	RateLimitPerDay int
}

// UserProviderToken is a user's OAuth token set for one provider, scoped
// to an optional tenant. AccessTokenEnc/RefreshTokenEnc are envelope
// ciphertexts; callers decrypt through pkg/oauthmgr, never directly.
type UserProviderToken struct {
	UserID          string
	ProviderName    string
	TenantID        string // optional; empty for tenant-less users
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
	GrantedScopes   []string
	LastRefreshedAt time.Time
}
