// Package authn extracts a dispatch.Principal from a bearer JWT, the
// way a transport layer must do before handing a tools/call request to
// the dispatcher. Discovery methods (tools/list, initialize) succeed
// without a valid token; only tools/call requires a principal.
package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/dispatch"
)

// Claims is the minimal JWT claim set this module trusts: subject,
// tenant, and admin flag. Issuer/audience/expiry are handled by the
// standard jwt.RegisteredClaims embedding.
type Claims struct {
	TenantID string `json:"tenant_id"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a single HMAC signing key,
// mirroring fedmcp's own session tokens (issued at login, opaque to
// upstream fitness providers — never confused with provider OAuth
// tokens, which pkg/oauthmgr owns).
type Verifier struct {
	key []byte
}

// New constructs a Verifier from the configured signing key.
func New(signingKey []byte) *Verifier {
	return &Verifier{key: signingKey}
}

// ExtractPrincipal parses and validates raw (no "Bearer " prefix) and
// returns the Principal it encodes. An empty raw token always yields
// KindAuthenticationRequired; an expired-but-well-formed token yields
// KindTokenExpired so callers can distinguish "log in again" from
// "token was never valid."
func (v *Verifier) ExtractPrincipal(raw string) (dispatch.Principal, error) {
	if raw == "" {
		return dispatch.Principal{}, apperr.New(apperr.KindAuthenticationRequired, "Authentication required")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return dispatch.Principal{}, apperr.Wrap(apperr.KindTokenExpired, "session token expired", err)
		}
		return dispatch.Principal{}, apperr.Wrap(apperr.KindAuthenticationRequired, "Authentication required", err)
	}
	if !token.Valid {
		return dispatch.Principal{}, apperr.New(apperr.KindAuthenticationRequired, "Authentication required")
	}

	return dispatch.Principal{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		IsAdmin:  claims.IsAdmin,
	}, nil
}

// IssueToken mints a signing-key-bearing session token for userID/tenantID,
// used by the login/callback surface (not by dispatch) to hand a client
// something to send back as a bearer token on subsequent calls.
func (v *Verifier) IssueToken(userID, tenantID string, isAdmin bool, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "sign session token", err)
	}
	return signed, nil
}
