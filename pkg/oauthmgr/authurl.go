package oauthmgr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
)

// pendingStateTTL is how long a state/PKCE pair survives before the
// callback must be rejected and the user sent through the flow again.
const pendingStateTTL = 10 * time.Minute

// stateEntropyBytes is the raw random byte count behind the state
// parameter, base64url-encoded to ~43 characters (> 32 bytes required).
const stateEntropyBytes = 32

// pkceVerifierBytes is the raw random byte count behind the PKCE code
// verifier, base64url-encoded to ~86 characters (inside RFC 7636's
// 43-128 character bound).
const pkceVerifierBytes = 64

// pkceParams holds a PKCE verifier/challenge pair (RFC 7636).
type pkceParams struct {
	verifier  string
	challenge string
}

// generateState produces a cryptographically random, URL-safe state
// value. Grounded on toolhive's pkg/auth/oauth.GenerateState.
func generateState() (string, error) {
	b := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "generate oauth state", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generatePKCE produces an S256 PKCE verifier/challenge pair. Grounded on
// toolhive's pkg/auth/oauth.GeneratePKCEParams.
func generatePKCE() (pkceParams, error) {
	b := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return pkceParams{}, apperr.Wrap(apperr.KindCryptoFailure, "generate pkce verifier", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return pkceParams{verifier: verifier, challenge: challenge}, nil
}

// BuildAuthorizationURL starts an OAuth2 authorization-code flow for
// (tenantID, userID, providerName): it loads the tenant's client
// registration and the provider descriptor, mints state (and a PKCE pair
// when the provider requires it), persists the pending-state record, and
// returns the URL the user's browser should be redirected to.
func (m *Manager) BuildAuthorizationURL(ctx context.Context, tenantID, userID, providerName string) (string, error) {
	creds, err := m.store.GetTenantOAuthCredentials(ctx, tenantID, providerName)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfigurationMissing,
			fmt.Sprintf("no oauth client registered for tenant %q provider %q", tenantID, providerName), err)
	}

	descriptor, ok := m.registry.Descriptor(providerName)
	if !ok {
		return "", apperr.New(apperr.KindUnsupportedProvider, fmt.Sprintf("provider %q is not registered", providerName))
	}

	state, err := generateState()
	if err != nil {
		return "", err
	}

	pending := domain.PendingOAuthState{
		State:        state,
		UserID:       userID,
		TenantID:     tenantID,
		ProviderName: providerName,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(pendingStateTTL),
	}

	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = descriptor.DefaultScopes
	}

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", creds.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(scopes, descriptor.ScopeSeparator))
	q.Set("state", state)

	if descriptor.UsesPKCE {
		pkce, err := generatePKCE()
		if err != nil {
			return "", err
		}
		pending.CodeVerifier = pkce.verifier
		q.Set("code_challenge", pkce.challenge)
		q.Set("code_challenge_method", "S256")
	}

	if err := m.store.SetPendingOAuthState(ctx, pending, pendingStateTTL); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "persist pending oauth state", err)
	}

	base := descriptor.AuthURL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode(), nil
}

func joinScopes(scopes []string, separator string) string {
	if separator == "" {
		separator = " "
	}
	return strings.Join(scopes, separator)
}
