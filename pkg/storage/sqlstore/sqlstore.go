// Package sqlstore is the durable storage.Store backend: database/sql
// over modernc.org/sqlite, with schema migrations applied at startup via
// pressly/goose/v3. Grounded on rakunlabs-at's internal/store/sqlite3
// (WAL mode, single-writer connection pool, transactions for atomic
// multi-statement operations), generalized from a provider-config store
// to the full fedmcp persistence port.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/logger"
	"github.com/stacklok/fedmcp/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// Open applies pending migrations and returns a ready Store. dsn is a
// modernc.org/sqlite data source, e.g. "file:fedmcp.db?_pragma=foreign_keys(1)".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; serialize through one connection so
	// transactions never spuriously hit SQLITE_BUSY
	// against a sibling connection from the same process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Infof("sqlstore: connected and migrated (dsn=%s)", dsn)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

var _ storage.Store = (*Store)(nil)

func notFoundErr(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, kind+" not found: "+id)
	}
	return apperr.Wrap(apperr.KindInternal, "query "+kind, err)
}

const rfc3339 = time.RFC3339Nano

// --- Users ---

func (s *Store) scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var isAdmin int
	var createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Tier,
		&u.TenantID, &u.Status, &isAdmin, &createdAt)
	if err != nil {
		return domain.User{}, err
	}
	u.IsAdmin = isAdmin != 0
	u.CreatedAt, _ = time.Parse(rfc3339, createdAt)
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, display_name, password_hash, tier, tenant_id, status, is_admin, created_at FROM users WHERE id = ?`, id)
	u, err := s.scanUser(row)
	if err != nil {
		return domain.User{}, notFoundErr(err, "user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, display_name, password_hash, tier, tenant_id, status, is_admin, created_at FROM users WHERE email = ?`, email)
	u, err := s.scanUser(row)
	if err != nil {
		return domain.User{}, notFoundErr(err, "user", email)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, tier, tenant_id, status, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Tier, u.TenantID, u.Status, boolToInt(u.IsAdmin), u.CreatedAt.Format(rfc3339))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "create user", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email=?, display_name=?, password_hash=?, tier=?, tenant_id=?, status=?, is_admin=? WHERE id=?`,
		u.Email, u.DisplayName, u.PasswordHash, u.Tier, u.TenantID, u.Status, boolToInt(u.IsAdmin), u.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update user", err)
	}
	return requireAffected(res, "user", u.ID)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete user", err)
	}
	return requireAffected(res, "user", id)
}

// --- Tenants ---

func (s *Store) scanTenant(row *sql.Row) (domain.Tenant, error) {
	var t domain.Tenant
	var createdAt string
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &t.OwnerUser, &createdAt)
	if err != nil {
		return domain.Tenant{}, err
	}
	t.CreatedAt, _ = time.Parse(rfc3339, createdAt)
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, slug, plan, owner_user, created_at FROM tenants WHERE id=?`, id)
	t, err := s.scanTenant(row)
	if err != nil {
		return domain.Tenant{}, notFoundErr(err, "tenant", id)
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, slug, plan, owner_user, created_at FROM tenants WHERE slug=?`, slug)
	t, err := s.scanTenant(row)
	if err != nil {
		return domain.Tenant{}, notFoundErr(err, "tenant", slug)
	}
	return t, nil
}

func (s *Store) CreateTenant(ctx context.Context, t domain.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, plan, owner_user, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Slug, string(t.Plan), t.OwnerUser, t.CreatedAt.Format(rfc3339))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "create tenant", err)
	}
	return nil
}

func (s *Store) UpdateTenant(ctx context.Context, t domain.Tenant) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET name=?, slug=?, plan=?, owner_user=? WHERE id=?`,
		t.Name, t.Slug, string(t.Plan), t.OwnerUser, t.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update tenant", err)
	}
	return requireAffected(res, "tenant", t.ID)
}

func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id=?`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete tenant", err)
	}
	return requireAffected(res, "tenant", id)
}

// --- Tenant OAuth credentials ---

func (s *Store) GetTenantOAuthCredentials(ctx context.Context, tenantID, provider string) (domain.TenantOAuthCredentials, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, provider, client_id, client_secret_enc, redirect_uri, scopes, rate_limit_per_day
		 FROM tenant_oauth_credentials WHERE tenant_id=? AND provider=?`, tenantID, provider)
	var c domain.TenantOAuthCredentials
	var scopes string
	err := row.Scan(&c.TenantID, &c.ProviderName, &c.ClientID, &c.ClientSecretEnc, &c.RedirectURI, &scopes, &c.RateLimitPerDay)
	if err != nil {
		return domain.TenantOAuthCredentials{}, notFoundErr(err, "tenant_oauth_credentials", tenantID+"/"+provider)
	}
	c.Scopes = splitCSV(scopes)
	return c, nil
}

func (s *Store) UpsertTenantOAuthCredentials(ctx context.Context, c domain.TenantOAuthCredentials) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_oauth_credentials (tenant_id, provider, client_id, client_secret_enc, redirect_uri, scopes, rate_limit_per_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, provider) DO UPDATE SET
		   client_id=excluded.client_id, client_secret_enc=excluded.client_secret_enc,
		   redirect_uri=excluded.redirect_uri, scopes=excluded.scopes, rate_limit_per_day=excluded.rate_limit_per_day`,
		c.TenantID, c.ProviderName, c.ClientID, c.ClientSecretEnc, c.RedirectURI, joinCSV(c.Scopes), c.RateLimitPerDay)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert tenant oauth credentials", err)
	}
	return nil
}

func (s *Store) DeleteTenantOAuthCredentials(ctx context.Context, tenantID, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenant_oauth_credentials WHERE tenant_id=? AND provider=?`, tenantID, provider)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete tenant oauth credentials", err)
	}
	return nil
}

// --- User provider tokens ---

func (s *Store) GetUserProviderToken(ctx context.Context, userID, provider, tenantID string) (domain.UserProviderToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, provider, tenant_id, access_token_enc, refresh_token_enc, expires_at, granted_scopes, last_refreshed_at
		 FROM user_provider_tokens WHERE user_id=? AND provider=? AND tenant_id=?`, userID, provider, tenantID)
	t, err := scanToken(row)
	if err != nil {
		return domain.UserProviderToken{}, notFoundErr(err, "user_provider_token", userID+"/"+provider)
	}
	return t, nil
}

func scanToken(row *sql.Row) (domain.UserProviderToken, error) {
	var t domain.UserProviderToken
	var scopes, expiresAt, lastRefreshed string
	err := row.Scan(&t.UserID, &t.ProviderName, &t.TenantID, &t.AccessTokenEnc, &t.RefreshTokenEnc, &expiresAt, &scopes, &lastRefreshed)
	if err != nil {
		return domain.UserProviderToken{}, err
	}
	t.GrantedScopes = splitCSV(scopes)
	t.ExpiresAt, _ = time.Parse(rfc3339, expiresAt)
	t.LastRefreshedAt, _ = time.Parse(rfc3339, lastRefreshed)
	return t, nil
}

// UpsertUserProviderToken runs inside a transaction on the single
// writer connection (SetMaxOpenConns(1)), which gives the same
// exclusivity BEGIN IMMEDIATE would buy on a multi-connection pool: no
// concurrent upsert for the same key can interleave with this one.
func (s *Store) UpsertUserProviderToken(ctx context.Context, t domain.UserProviderToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "begin token upsert", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_provider_tokens (user_id, provider, tenant_id, access_token_enc, refresh_token_enc, expires_at, granted_scopes, last_refreshed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, provider, tenant_id) DO UPDATE SET
		   access_token_enc=excluded.access_token_enc, refresh_token_enc=excluded.refresh_token_enc,
		   expires_at=excluded.expires_at, granted_scopes=excluded.granted_scopes, last_refreshed_at=excluded.last_refreshed_at`,
		t.UserID, t.ProviderName, t.TenantID, t.AccessTokenEnc, t.RefreshTokenEnc,
		t.ExpiresAt.Format(rfc3339), joinCSV(t.GrantedScopes), t.LastRefreshedAt.Format(rfc3339))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert user provider token", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteUserProviderToken(ctx context.Context, userID, provider, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_provider_tokens WHERE user_id=? AND provider=? AND tenant_id=?`, userID, provider, tenantID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete user provider token", err)
	}
	return nil
}

// --- Tool catalog ---

func (s *Store) ListToolCatalog(ctx context.Context) ([]domain.ToolCatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_name, display_name, description, category, is_enabled_by_default, min_plan FROM tool_catalog`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list tool catalog", err)
	}
	defer rows.Close()

	var out []domain.ToolCatalogEntry
	for rows.Next() {
		var e domain.ToolCatalogEntry
		var enabled int
		var minPlan string
		if err := rows.Scan(&e.ToolName, &e.DisplayName, &e.Description, &e.Category, &enabled, &minPlan); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan tool catalog row", err)
		}
		e.IsEnabledByDefault = enabled != 0
		e.MinPlan = domain.Plan(minPlan)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetToolCatalogEntry(ctx context.Context, toolName string) (domain.ToolCatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tool_name, display_name, description, category, is_enabled_by_default, min_plan FROM tool_catalog WHERE tool_name=?`, toolName)
	var e domain.ToolCatalogEntry
	var enabled int
	var minPlan string
	err := row.Scan(&e.ToolName, &e.DisplayName, &e.Description, &e.Category, &enabled, &minPlan)
	if err != nil {
		return domain.ToolCatalogEntry{}, notFoundErr(err, "tool_catalog_entry", toolName)
	}
	e.IsEnabledByDefault = enabled != 0
	e.MinPlan = domain.Plan(minPlan)
	return e, nil
}

// --- Tenant tool overrides ---

func (s *Store) GetTenantToolOverride(ctx context.Context, tenantID, toolName string) (domain.TenantToolOverride, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, tool_name, is_enabled, set_by_admin_id, reason FROM tenant_tool_overrides WHERE tenant_id=? AND tool_name=?`,
		tenantID, toolName)
	var o domain.TenantToolOverride
	var enabled int
	err := row.Scan(&o.TenantID, &o.ToolName, &enabled, &o.SetByAdminID, &o.Reason)
	if err != nil {
		return domain.TenantToolOverride{}, notFoundErr(err, "tenant_tool_override", tenantID+"/"+toolName)
	}
	o.IsEnabled = enabled != 0
	return o, nil
}

func (s *Store) UpsertTenantToolOverride(ctx context.Context, o domain.TenantToolOverride) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_tool_overrides (tenant_id, tool_name, is_enabled, set_by_admin_id, reason)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, tool_name) DO UPDATE SET
		   is_enabled=excluded.is_enabled, set_by_admin_id=excluded.set_by_admin_id, reason=excluded.reason`,
		o.TenantID, o.ToolName, boolToInt(o.IsEnabled), o.SetByAdminID, o.Reason)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert tenant tool override", err)
	}
	return nil
}

func (s *Store) DeleteTenantToolOverride(ctx context.Context, tenantID, toolName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenant_tool_overrides WHERE tenant_id=? AND tool_name=?`, tenantID, toolName)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete tenant tool override", err)
	}
	return nil
}

func (s *Store) ListTenantToolOverrides(ctx context.Context, tenantID string) ([]domain.TenantToolOverride, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, tool_name, is_enabled, set_by_admin_id, reason FROM tenant_tool_overrides WHERE tenant_id=?`, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list tenant tool overrides", err)
	}
	defer rows.Close()

	var out []domain.TenantToolOverride
	for rows.Next() {
		var o domain.TenantToolOverride
		var enabled int
		if err := rows.Scan(&o.TenantID, &o.ToolName, &enabled, &o.SetByAdminID, &o.Reason); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan tenant tool override row", err)
		}
		o.IsEnabled = enabled != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Admin config overrides ---

func (s *Store) GetAdminConfigOverride(ctx context.Context, key, scope string) (domain.AdminConfigOverride, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, scope, value FROM admin_config_overrides WHERE key=? AND scope=?`, key, scope)
	var o domain.AdminConfigOverride
	if err := row.Scan(&o.Key, &o.Scope, &o.Value); err != nil {
		return domain.AdminConfigOverride{}, notFoundErr(err, "admin_config_override", key+"/"+scope)
	}
	return o, nil
}

func (s *Store) UpsertAdminConfigOverride(ctx context.Context, o domain.AdminConfigOverride) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_config_overrides (key, scope, value) VALUES (?, ?, ?)
		 ON CONFLICT (key, scope) DO UPDATE SET value=excluded.value`,
		o.Key, o.Scope, o.Value)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert admin config override", err)
	}
	return nil
}

// --- System secrets ---

// GetOrCreateSystemSecret runs the lookup, generate() and the insert in
// one transaction on the store's single connection, so callers sharing
// this Store converge on a single generated value. The transaction is
// SQLite's default deferred kind, not BEGIN IMMEDIATE: if another
// process inserts the same key first, this call returns an insert error
// rather than the stored value.
func (s *Store) GetOrCreateSystemSecret(ctx context.Context, key string, generate func() (string, error)) (domain.SystemSecret, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SystemSecret{}, apperr.Wrap(apperr.KindInternal, "begin get-or-create secret", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT key, value FROM system_secrets WHERE key=?`, key)
	var sec domain.SystemSecret
	err = row.Scan(&sec.Key, &sec.Value)
	switch {
	case err == nil:
		return sec, tx.Commit()
	case errors.Is(err, sql.ErrNoRows):
		value, genErr := generate()
		if genErr != nil {
			return domain.SystemSecret{}, apperr.Wrap(apperr.KindCryptoFailure, "generate system secret", genErr)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO system_secrets (key, value) VALUES (?, ?)`, key, value); err != nil {
			return domain.SystemSecret{}, apperr.Wrap(apperr.KindInternal, "insert system secret", err)
		}
		sec = domain.SystemSecret{Key: key, Value: value}
		return sec, tx.Commit()
	default:
		return domain.SystemSecret{}, apperr.Wrap(apperr.KindInternal, "query system secret", err)
	}
}

func (s *Store) UpdateSystemSecret(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_secrets (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value=excluded.value`,
		key, value)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update system secret", err)
	}
	return nil
}

// --- Provider last-sync marker ---

func (s *Store) GetProviderSyncMarker(ctx context.Context, userID, provider string) (domain.ProviderSyncMarker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, provider, last_synced_at FROM provider_sync_markers WHERE user_id=? AND provider=?`, userID, provider)
	var m domain.ProviderSyncMarker
	var lastSynced string
	if err := row.Scan(&m.UserID, &m.ProviderName, &lastSynced); err != nil {
		return domain.ProviderSyncMarker{}, notFoundErr(err, "provider_sync_marker", userID+"/"+provider)
	}
	m.LastSyncedAt, _ = time.Parse(rfc3339, lastSynced)
	return m, nil
}

func (s *Store) SetProviderSyncMarker(ctx context.Context, m domain.ProviderSyncMarker) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_sync_markers (user_id, provider, last_synced_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, provider) DO UPDATE SET last_synced_at=excluded.last_synced_at`,
		m.UserID, m.ProviderName, m.LastSyncedAt.Format(rfc3339))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "set provider sync marker", err)
	}
	return nil
}

// --- LLM credentials ---

func (s *Store) GetLLMCredential(ctx context.Context, tenantID, userID, providerName string) (domain.LLMCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, provider, api_key_enc, base_url, default_model, is_active, created_by, created_at, updated_at
		 FROM user_llm_credentials WHERE tenant_id=? AND user_id=? AND provider=?`, tenantID, userID, providerName)
	c, err := scanLLMCredential(row)
	if err != nil {
		return domain.LLMCredential{}, notFoundErr(err, "llm_credential", tenantID+"/"+userID+"/"+providerName)
	}
	return c, nil
}

func scanLLMCredential(row *sql.Row) (domain.LLMCredential, error) {
	var c domain.LLMCredential
	var isActive int
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Provider, &c.APIKeyEnc, &c.BaseURL, &c.DefaultModel,
		&isActive, &c.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return domain.LLMCredential{}, err
	}
	c.IsActive = isActive != 0
	c.CreatedAt, _ = time.Parse(rfc3339, createdAt)
	c.UpdatedAt, _ = time.Parse(rfc3339, updatedAt)
	return c, nil
}

func (s *Store) UpsertLLMCredential(ctx context.Context, c domain.LLMCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_llm_credentials (id, tenant_id, user_id, provider, api_key_enc, base_url, default_model, is_active, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, user_id, provider) DO UPDATE SET
		   api_key_enc=excluded.api_key_enc, base_url=excluded.base_url, default_model=excluded.default_model,
		   is_active=excluded.is_active, updated_at=excluded.updated_at`,
		c.ID, c.TenantID, c.UserID, c.Provider, c.APIKeyEnc, c.BaseURL, c.DefaultModel,
		boolToInt(c.IsActive), c.CreatedBy, c.CreatedAt.Format(rfc3339), c.UpdatedAt.Format(rfc3339))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert llm credential", err)
	}
	return nil
}

func (s *Store) DeleteLLMCredential(ctx context.Context, tenantID, userID, providerName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_llm_credentials WHERE tenant_id=? AND user_id=? AND provider=?`, tenantID, userID, providerName)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete llm credential", err)
	}
	return nil
}

func (s *Store) ListLLMCredentials(ctx context.Context, tenantID string) ([]domain.LLMCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, provider, api_key_enc, base_url, default_model, is_active, created_by, created_at, updated_at
		 FROM user_llm_credentials WHERE tenant_id=?`, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list llm credentials", err)
	}
	defer rows.Close()

	var out []domain.LLMCredential
	for rows.Next() {
		var c domain.LLMCredential
		var isActive int
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Provider, &c.APIKeyEnc, &c.BaseURL, &c.DefaultModel,
			&isActive, &c.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan llm credential row", err)
		}
		c.IsActive = isActive != 0
		c.CreatedAt, _ = time.Parse(rfc3339, createdAt)
		c.UpdatedAt, _ = time.Parse(rfc3339, updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Pending OAuth states ---

func (s *Store) SetPendingOAuthState(ctx context.Context, state domain.PendingOAuthState, ttl time.Duration) error {
	expiresAt := state.CreatedAt.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_oauth_states (state, user_id, tenant_id, provider, code_verifier, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		state.State, state.UserID, state.TenantID, state.ProviderName, state.CodeVerifier,
		state.CreatedAt.Format(rfc3339), expiresAt.Format(rfc3339))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "set pending oauth state", err)
	}
	return nil
}

// GetAndDeletePendingOAuthState deletes inside the same transaction as
// the read, on the single writer connection, so the row cannot be
// observed by a second concurrent caller after this one deletes it.
func (s *Store) GetAndDeletePendingOAuthState(ctx context.Context, state string) (domain.PendingOAuthState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PendingOAuthState{}, apperr.Wrap(apperr.KindInternal, "begin get-and-delete state", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT state, user_id, tenant_id, provider, code_verifier, created_at, expires_at FROM pending_oauth_states WHERE state=?`, state)
	var rec domain.PendingOAuthState
	var createdAt, expiresAt string
	err = row.Scan(&rec.State, &rec.UserID, &rec.TenantID, &rec.ProviderName, &rec.CodeVerifier, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOAuthState{}, apperr.New(apperr.KindInvalidParams, "unknown or already-redeemed oauth state")
	}
	if err != nil {
		return domain.PendingOAuthState{}, apperr.Wrap(apperr.KindInternal, "query pending oauth state", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_oauth_states WHERE state=?`, state); err != nil {
		return domain.PendingOAuthState{}, apperr.Wrap(apperr.KindInternal, "delete pending oauth state", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.PendingOAuthState{}, apperr.Wrap(apperr.KindInternal, "commit get-and-delete state", err)
	}

	rec.CreatedAt, _ = time.Parse(rfc3339, createdAt)
	rec.ExpiresAt, _ = time.Parse(rfc3339, expiresAt)
	if time.Now().After(rec.ExpiresAt) {
		return domain.PendingOAuthState{}, apperr.New(apperr.KindInvalidParams, "oauth state expired")
	}
	return rec, nil
}

func (s *Store) GetProviderCallCount(ctx context.Context, tenantID, provider, day string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT call_count FROM provider_call_counters WHERE tenant_id=? AND provider=? AND day=?`,
		tenantID, provider, day)
	var count int
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, apperr.Wrap(apperr.KindInternal, "get provider call count", err)
	}
	return count, nil
}

func (s *Store) IncrementProviderCallCount(ctx context.Context, tenantID, provider, day string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_call_counters (tenant_id, provider, day, call_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT (tenant_id, provider, day) DO UPDATE SET call_count = call_count + 1`,
		tenantID, provider, day)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "increment provider call count", err)
	}
	return nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, kind+" not found: "+id)
	}
	return nil
}

func joinCSV(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
