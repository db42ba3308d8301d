// Package memstore is an in-memory storage.Store, the default backend
// and the one exercised by every other package's unit tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/storage"
)

type tokenKey struct {
	userID, provider, tenantID string
}

type credKey struct {
	tenantID, provider string
}

type overrideKey struct {
	tenantID, toolName string
}

type configKey struct {
	key, scope string
}

type syncKey struct {
	userID, provider string
}

type llmCredKey struct {
	tenantID, userID, provider string
}

type callCounterKey struct {
	tenantID, provider, day string
}

// Store is a single mutex-guarded in-memory implementation of
// storage.Store. One mutex per instance is sufficient to make the
// token-upsert and pending-state get-and-delete atomicity requirements
// trivially true.
type Store struct {
	mu sync.Mutex

	users       map[string]domain.User
	usersByMail map[string]string // email -> id

	tenants      map[string]domain.Tenant
	tenantsBySlug map[string]string // slug -> id

	tenantCreds map[credKey]domain.TenantOAuthCredentials
	tokens      map[tokenKey]domain.UserProviderToken

	toolCatalog map[string]domain.ToolCatalogEntry
	overrides   map[overrideKey]domain.TenantToolOverride

	adminConfig map[configKey]domain.AdminConfigOverride
	secrets     map[string]domain.SystemSecret
	syncMarkers map[syncKey]domain.ProviderSyncMarker
	states      map[string]domain.PendingOAuthState
	llmCreds    map[llmCredKey]domain.LLMCredential
	callCounts  map[callCounterKey]int
}

// New constructs an empty Store, optionally seeded with a static tool
// catalog (the catalog is read-heavy and rarely mutated at runtime).
func New(catalog []domain.ToolCatalogEntry) *Store {
	s := &Store{
		users:         make(map[string]domain.User),
		usersByMail:   make(map[string]string),
		tenants:       make(map[string]domain.Tenant),
		tenantsBySlug: make(map[string]string),
		tenantCreds:   make(map[credKey]domain.TenantOAuthCredentials),
		tokens:        make(map[tokenKey]domain.UserProviderToken),
		toolCatalog:   make(map[string]domain.ToolCatalogEntry),
		overrides:     make(map[overrideKey]domain.TenantToolOverride),
		adminConfig:   make(map[configKey]domain.AdminConfigOverride),
		secrets:       make(map[string]domain.SystemSecret),
		syncMarkers:   make(map[syncKey]domain.ProviderSyncMarker),
		states:        make(map[string]domain.PendingOAuthState),
		llmCreds:      make(map[llmCredKey]domain.LLMCredential),
		callCounts:    make(map[callCounterKey]int),
	}
	for _, entry := range catalog {
		s.toolCatalog[entry.ToolName] = entry
	}
	return s
}

var _ storage.Store = (*Store)(nil)

func notFound(kind, id string) error {
	return apperr.New(apperr.KindNotFound, kind+" not found: "+id)
}

// --- Users ---

func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByMail[email]
	if !ok {
		return domain.User{}, notFound("user", email)
	}
	return s.users[id], nil
}

func (s *Store) CreateUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.usersByMail[u.Email] = u.ID
	return nil
}

func (s *Store) UpdateUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return notFound("user", u.ID)
	}
	s.users[u.ID] = u
	s.usersByMail[u.Email] = u.ID
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	delete(s.usersByMail, u.Email)
	return nil
}

// --- Tenants ---

func (s *Store) GetTenant(_ context.Context, id string) (domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return domain.Tenant{}, notFound("tenant", id)
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tenantsBySlug[slug]
	if !ok {
		return domain.Tenant{}, notFound("tenant", slug)
	}
	return s.tenants[id], nil
}

func (s *Store) CreateTenant(_ context.Context, t domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	s.tenantsBySlug[t.Slug] = t.ID
	return nil
}

func (s *Store) UpdateTenant(_ context.Context, t domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return notFound("tenant", t.ID)
	}
	s.tenants[t.ID] = t
	s.tenantsBySlug[t.Slug] = t.ID
	return nil
}

func (s *Store) DeleteTenant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return notFound("tenant", id)
	}
	delete(s.tenants, id)
	delete(s.tenantsBySlug, t.Slug)
	return nil
}

// --- Tenant OAuth credentials ---

func (s *Store) GetTenantOAuthCredentials(_ context.Context, tenantID, provider string) (domain.TenantOAuthCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tenantCreds[credKey{tenantID, provider}]
	if !ok {
		return domain.TenantOAuthCredentials{}, notFound("tenant_oauth_credentials", tenantID+"/"+provider)
	}
	return c, nil
}

func (s *Store) UpsertTenantOAuthCredentials(_ context.Context, c domain.TenantOAuthCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantCreds[credKey{c.TenantID, c.ProviderName}] = c
	return nil
}

func (s *Store) DeleteTenantOAuthCredentials(_ context.Context, tenantID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenantCreds, credKey{tenantID, provider})
	return nil
}

// --- User provider tokens ---

func (s *Store) GetUserProviderToken(_ context.Context, userID, provider, tenantID string) (domain.UserProviderToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenKey{userID, provider, tenantID}]
	if !ok {
		return domain.UserProviderToken{}, notFound("user_provider_token", userID+"/"+provider)
	}
	return t, nil
}

// UpsertUserProviderToken holds the store mutex for the full
// read-modify-write, so concurrent refreshes for the same
// (user, provider, tenant) triple cannot interleave.
func (s *Store) UpsertUserProviderToken(_ context.Context, t domain.UserProviderToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey{t.UserID, t.ProviderName, t.TenantID}] = t
	return nil
}

func (s *Store) DeleteUserProviderToken(_ context.Context, userID, provider, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenKey{userID, provider, tenantID})
	return nil
}

// --- Tool catalog ---

func (s *Store) ListToolCatalog(_ context.Context) ([]domain.ToolCatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ToolCatalogEntry, 0, len(s.toolCatalog))
	for _, e := range s.toolCatalog {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) GetToolCatalogEntry(_ context.Context, toolName string) (domain.ToolCatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.toolCatalog[toolName]
	if !ok {
		return domain.ToolCatalogEntry{}, notFound("tool_catalog_entry", toolName)
	}
	return e, nil
}

// --- Tenant tool overrides ---

func (s *Store) GetTenantToolOverride(_ context.Context, tenantID, toolName string) (domain.TenantToolOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[overrideKey{tenantID, toolName}]
	if !ok {
		return domain.TenantToolOverride{}, notFound("tenant_tool_override", tenantID+"/"+toolName)
	}
	return o, nil
}

func (s *Store) UpsertTenantToolOverride(_ context.Context, o domain.TenantToolOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey{o.TenantID, o.ToolName}] = o
	return nil
}

func (s *Store) DeleteTenantToolOverride(_ context.Context, tenantID, toolName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, overrideKey{tenantID, toolName})
	return nil
}

func (s *Store) ListTenantToolOverrides(_ context.Context, tenantID string) ([]domain.TenantToolOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TenantToolOverride
	for k, o := range s.overrides {
		if k.tenantID == tenantID {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- Admin config overrides ---

func (s *Store) GetAdminConfigOverride(_ context.Context, key, scope string) (domain.AdminConfigOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.adminConfig[configKey{key, scope}]
	if !ok {
		return domain.AdminConfigOverride{}, notFound("admin_config_override", key+"/"+scope)
	}
	return c, nil
}

func (s *Store) UpsertAdminConfigOverride(_ context.Context, o domain.AdminConfigOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminConfig[configKey{o.Key, o.Scope}] = o
	return nil
}

// SetAdminConfigOverride is a test/seed helper retained for existing
// call sites that seed overrides outside a context.Context.
func (s *Store) SetAdminConfigOverride(o domain.AdminConfigOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminConfig[configKey{o.Key, o.Scope}] = o
}

// --- System secrets ---

func (s *Store) GetOrCreateSystemSecret(_ context.Context, key string, generate func() (string, error)) (domain.SystemSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.secrets[key]; ok {
		return existing, nil
	}
	value, err := generate()
	if err != nil {
		return domain.SystemSecret{}, apperr.Wrap(apperr.KindCryptoFailure, "generate system secret", err)
	}
	secret := domain.SystemSecret{Key: key, Value: value}
	s.secrets[key] = secret
	return secret, nil
}

func (s *Store) UpdateSystemSecret(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = domain.SystemSecret{Key: key, Value: value}
	return nil
}

// --- Provider last-sync marker ---

func (s *Store) GetProviderSyncMarker(_ context.Context, userID, provider string) (domain.ProviderSyncMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.syncMarkers[syncKey{userID, provider}]
	if !ok {
		return domain.ProviderSyncMarker{}, notFound("provider_sync_marker", userID+"/"+provider)
	}
	return m, nil
}

func (s *Store) SetProviderSyncMarker(_ context.Context, m domain.ProviderSyncMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncMarkers[syncKey{m.UserID, m.ProviderName}] = m
	return nil
}

// --- LLM credentials ---

func (s *Store) GetLLMCredential(_ context.Context, tenantID, userID, providerName string) (domain.LLMCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.llmCreds[llmCredKey{tenantID, userID, providerName}]
	if !ok {
		return domain.LLMCredential{}, notFound("llm_credential", tenantID+"/"+userID+"/"+providerName)
	}
	return c, nil
}

func (s *Store) UpsertLLMCredential(_ context.Context, c domain.LLMCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCreds[llmCredKey{c.TenantID, c.UserID, c.Provider}] = c
	return nil
}

func (s *Store) DeleteLLMCredential(_ context.Context, tenantID, userID, providerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.llmCreds, llmCredKey{tenantID, userID, providerName})
	return nil
}

func (s *Store) ListLLMCredentials(_ context.Context, tenantID string) ([]domain.LLMCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LLMCredential
	for k, c := range s.llmCreds {
		if k.tenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- Pending OAuth states ---

func (s *Store) SetPendingOAuthState(_ context.Context, state domain.PendingOAuthState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.ExpiresAt = state.CreatedAt.Add(ttl)
	s.states[state.State] = state
	return nil
}

// GetAndDeletePendingOAuthState deletes the record within the same
// critical section as the read, so a state value can never be
// redeemed by two concurrent callback requests.
func (s *Store) GetAndDeletePendingOAuthState(_ context.Context, state string) (domain.PendingOAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.states[state]
	if !ok {
		return domain.PendingOAuthState{}, apperr.New(apperr.KindInvalidParams, "unknown or already-redeemed oauth state")
	}
	delete(s.states, state)
	if time.Now().After(rec.ExpiresAt) {
		return domain.PendingOAuthState{}, apperr.New(apperr.KindInvalidParams, "oauth state expired")
	}
	return rec, nil
}

func (s *Store) GetProviderCallCount(_ context.Context, tenantID, provider, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCounts[callCounterKey{tenantID, provider, day}], nil
}

func (s *Store) IncrementProviderCallCount(_ context.Context, tenantID, provider, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCounts[callCounterKey{tenantID, provider, day}]++
	return nil
}
