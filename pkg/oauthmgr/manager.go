// Package oauthmgr owns every tenant OAuth client registration and every
// user's provider token set: authorization URL issuance, code exchange,
// read-time token acquisition with single-flight refresh coordination,
// and disconnect. Every secret it touches is envelope-encrypted under an
// AAD string that binds the ciphertext to the tenant/user/provider triple
// it belongs to (pkg/crypto), so a ciphertext copied between tenants or
// users fails to decrypt rather than silently returning the wrong secret.
package oauthmgr

import (
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/storage"
)

// SkewBuffer is how far ahead of actual expiry a token is treated as
// expired, so a call that starts just before expiry doesn't race an
// upstream API that rejects the token mid-flight.
const SkewBuffer = 5 * 60 // seconds, see Manager.skew

// Manager is the tenant credential & token manager (spec'd as the
// subsystem with the most subtle contracts in the whole system).
type Manager struct {
	store    storage.Store
	enc      *crypto.EnvelopeStore
	registry *provider.Registry
	http     httpDoer
	skew     time.Duration

	refresh singleflight.Group
}

// New constructs a Manager. httpClient is injectable for tests; pass nil
// to use http.DefaultClient.
func New(store storage.Store, enc *crypto.EnvelopeStore, registry *provider.Registry, httpClient httpDoer) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		store:    store,
		enc:      enc,
		registry: registry,
		http:     httpClient,
		skew:     SkewBuffer * time.Second,
	}
}

// TokenBundle is the decrypted, currently-valid token view returned to
// callers. Never persisted as-is; the manager always stores the
// encrypted form and decrypts only for the duration of a call.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// httpDoer is the subset of *http.Client the manager needs, so tests can
// substitute a fake transport without standing up a real listener.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func tenantSecretAAD(tenantID, providerName string) string {
	return tenantID + "|" + providerName + "|tenant_oauth"
}

func userTokenAAD(tenantID, userID, providerName string) string {
	return tenantID + "|" + userID + "|" + providerName + "|user_oauth_tokens"
}

func refreshKey(userID, providerName, tenantID string) string {
	return tenantID + "|" + userID + "|" + providerName
}
