// Package storage defines the persistence port every higher-level
// component depends on, plus two implementations: memstore (in-memory,
// used by default and in unit tests) and sqlstore (SQLite via
// database/sql, for durable single-process deployments).
package storage

import (
	"context"
	"time"

	"github.com/stacklok/fedmcp/pkg/domain"
)

// Store is the persistence port. All operations are safe for concurrent
// use. The token upsert and the pending-state get-and-delete are
// correctness-critical atomicity boundaries: implementations MUST NOT
// allow two concurrent callers to interleave a read and a write on the
// same key.
type Store interface {
	// Users
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, id string) error

	// Tenants
	GetTenant(ctx context.Context, id string) (domain.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error)
	CreateTenant(ctx context.Context, t domain.Tenant) error
	UpdateTenant(ctx context.Context, t domain.Tenant) error
	DeleteTenant(ctx context.Context, id string) error

	// Tenant OAuth credentials
	GetTenantOAuthCredentials(ctx context.Context, tenantID, provider string) (domain.TenantOAuthCredentials, error)
	UpsertTenantOAuthCredentials(ctx context.Context, c domain.TenantOAuthCredentials) error
	DeleteTenantOAuthCredentials(ctx context.Context, tenantID, provider string) error

	// User provider tokens — UpsertUserProviderToken MUST be atomic:
	// read-modify-write under a row lock or equivalent, since the
	// single-flight refresh path races concurrent dispatch calls.
	GetUserProviderToken(ctx context.Context, userID, provider, tenantID string) (domain.UserProviderToken, error)
	UpsertUserProviderToken(ctx context.Context, t domain.UserProviderToken) error
	DeleteUserProviderToken(ctx context.Context, userID, provider, tenantID string) error

	// Tool catalog
	ListToolCatalog(ctx context.Context) ([]domain.ToolCatalogEntry, error)
	GetToolCatalogEntry(ctx context.Context, toolName string) (domain.ToolCatalogEntry, error)

	// Tenant tool overrides
	GetTenantToolOverride(ctx context.Context, tenantID, toolName string) (domain.TenantToolOverride, error)
	UpsertTenantToolOverride(ctx context.Context, o domain.TenantToolOverride) error
	DeleteTenantToolOverride(ctx context.Context, tenantID, toolName string) error
	ListTenantToolOverrides(ctx context.Context, tenantID string) ([]domain.TenantToolOverride, error)

	// Admin config overrides
	GetAdminConfigOverride(ctx context.Context, key, scope string) (domain.AdminConfigOverride, error)
	UpsertAdminConfigOverride(ctx context.Context, o domain.AdminConfigOverride) error

	// LLM credentials — userID empty means a tenant-level default.
	GetLLMCredential(ctx context.Context, tenantID, userID, providerName string) (domain.LLMCredential, error)
	UpsertLLMCredential(ctx context.Context, c domain.LLMCredential) error
	DeleteLLMCredential(ctx context.Context, tenantID, userID, providerName string) error
	ListLLMCredentials(ctx context.Context, tenantID string) ([]domain.LLMCredential, error)

	// System secrets
	GetOrCreateSystemSecret(ctx context.Context, key string, generate func() (string, error)) (domain.SystemSecret, error)
	UpdateSystemSecret(ctx context.Context, key, value string) error

	// Provider last-sync marker
	GetProviderSyncMarker(ctx context.Context, userID, provider string) (domain.ProviderSyncMarker, error)
	SetProviderSyncMarker(ctx context.Context, m domain.ProviderSyncMarker) error

	// Pending OAuth states — SetPendingOAuthState stores with a TTL;
	// GetAndDeletePendingOAuthState MUST delete atomically with the
	// read so a state value can never be redeemed twice.
	SetPendingOAuthState(ctx context.Context, s domain.PendingOAuthState, ttl time.Duration) error
	GetAndDeletePendingOAuthState(ctx context.Context, state string) (domain.PendingOAuthState, error)

	// Provider call counters — per (tenant, provider, day) counts backing
	// the per-tenant daily rate limit. day is a "2006-01-02" UTC string.
	// GetProviderCallCount returns 0, nil for a day with no recorded calls.
	GetProviderCallCount(ctx context.Context, tenantID, provider, day string) (int, error)
	IncrementProviderCallCount(ctx context.Context, tenantID, provider, day string) error
}
