package oauthmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
)

// tokenResponse is the union of every shape upstream token endpoints use.
// Providers vary in which expiry field they send and whether scope comes
// back as a string or an array; every field here is optional.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// normalizedExpiry turns whichever expiry field the provider populated
// into an absolute UTC timestamp.
func (t tokenResponse) normalizedExpiry(now time.Time) time.Time {
	switch {
	case t.ExpiresAt > 0:
		return time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		return now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	default:
		// No expiry supplied; treat as already needing a refresh on next
		// read rather than assume a long-lived token.
		return now.UTC()
	}
}

func (t tokenResponse) scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// tokenErrorKind classifies a failed token-endpoint response per the
// refresh/exchange error taxonomy: an invalid_grant 400/401 is terminal
// (the refresh token itself is dead), 5xx/network failures are
// transient, everything else is an opaque failure.
func tokenErrorKind(statusCode int, body tokenResponse) apperr.Kind {
	switch {
	case statusCode >= 500:
		return apperr.KindRefreshTransient
	case (statusCode == 400 || statusCode == 401) && body.Error == "invalid_grant":
		return apperr.KindRefreshTokenRevoked
	default:
		return apperr.KindRefreshFailed
	}
}

// postTokenRequest POSTs form-encoded params to tokenURL with client
// credentials in the request body (form-params auth style, the common
// case across the providers this deployment integrates). It returns the
// parsed response and, on a non-2xx status, a classified *apperr.Error.
func (m *Manager) postTokenRequest(ctx context.Context, tokenURL string, params url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return tokenResponse{}, apperr.Wrap(apperr.KindInternal, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return tokenResponse{}, apperr.Wrap(apperr.KindRefreshTransient, "token request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenResponse{}, apperr.Wrap(apperr.KindProviderParseError, "read token response", err)
	}

	var parsed tokenResponse
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
			// Some providers (notably older OAuth1-ish token endpoints)
			// return form-encoded bodies even on success; fall back.
			if form, ferr := url.ParseQuery(string(raw)); ferr == nil && form.Get("access_token") != "" {
				parsed = formToTokenResponse(form)
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return tokenResponse{}, apperr.Wrap(apperr.KindProviderParseError, "parse token response", jsonErr)
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := tokenErrorKind(resp.StatusCode, parsed)
		msg := fmt.Sprintf("token endpoint returned %d", resp.StatusCode)
		if parsed.ErrorDesc != "" {
			msg = parsed.ErrorDesc
		} else if parsed.Error != "" {
			msg = parsed.Error
		}
		return tokenResponse{}, apperr.New(kind, msg).WithData(map[string]any{
			"status_code": resp.StatusCode,
		})
	}

	return parsed, nil
}

func formToTokenResponse(form url.Values) tokenResponse {
	expiresIn, _ := strconv.ParseInt(form.Get("expires_in"), 10, 64)
	return tokenResponse{
		AccessToken:  form.Get("access_token"),
		RefreshToken: form.Get("refresh_token"),
		TokenType:    form.Get("token_type"),
		ExpiresIn:    expiresIn,
		Scope:        form.Get("scope"),
	}
}

// encryptUserToken envelope-encrypts the access/refresh tokens for a
// UserProviderToken under the AAD binding it to this exact
// tenant/user/provider triple.
func (m *Manager) encryptUserToken(providerName, tenantID, userID string, tr tokenResponse, fallbackRefreshEnc string, now time.Time) (domain.UserProviderToken, error) {
	aad := userTokenAAD(tenantID, userID, providerName)

	accessEnc, err := m.enc.Encrypt(tr.AccessToken, aad)
	if err != nil {
		return domain.UserProviderToken{}, apperr.Wrap(apperr.KindCryptoFailure, "encrypt access token", err)
	}

	refreshEnc := fallbackRefreshEnc
	if tr.RefreshToken != "" {
		refreshEnc, err = m.enc.Encrypt(tr.RefreshToken, aad)
		if err != nil {
			return domain.UserProviderToken{}, apperr.Wrap(apperr.KindCryptoFailure, "encrypt refresh token", err)
		}
	}

	return domain.UserProviderToken{
		UserID:          userID,
		ProviderName:    providerName,
		TenantID:        tenantID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       tr.normalizedExpiry(now),
		GrantedScopes:   tr.scopes(),
		LastRefreshedAt: now,
	}, nil
}

// decryptBundle decrypts a stored UserProviderToken into the view
// returned to callers.
func (m *Manager) decryptBundle(t domain.UserProviderToken) (TokenBundle, error) {
	aad := userTokenAAD(t.TenantID, t.UserID, t.ProviderName)

	access, err := m.enc.Decrypt(t.AccessTokenEnc, aad)
	if err != nil {
		return TokenBundle{}, apperr.Wrap(apperr.KindCryptoFailure, "decrypt access token", err)
	}
	refresh, err := m.enc.Decrypt(t.RefreshTokenEnc, aad)
	if err != nil {
		return TokenBundle{}, apperr.Wrap(apperr.KindCryptoFailure, "decrypt refresh token", err)
	}

	return TokenBundle{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    t.ExpiresAt,
		Scopes:       t.GrantedScopes,
	}, nil
}
