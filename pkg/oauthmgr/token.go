package oauthmgr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

// GetValidToken returns the user's currently-valid token bundle for
// provider, or (nil, nil) if the user has never connected it. A non-nil
// bundle is guaranteed to carry an access token that has not yet crossed
// the skew buffer into "needs refresh" territory.
func (m *Manager) GetValidToken(ctx context.Context, userID, providerName, tenantID string) (*TokenBundle, error) {
	stored, err := m.store.GetUserProviderToken(ctx, userID, providerName, tenantID)
	if err != nil {
		if errIsNotFound(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindInternal, "load user provider token", err)
	}

	if stored.ExpiresAt.After(time.Now().UTC().Add(m.skew)) {
		bundle, err := m.decryptBundle(stored)
		if err != nil {
			return nil, err
		}
		return &bundle, nil
	}

	return m.refreshAndGet(ctx, userID, providerName, tenantID)
}

func errIsNotFound(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindNotFound
}

// refreshResult is what the single-flight group shares across every
// caller racing the same (user, provider, tenant) key.
type refreshResult struct {
	bundle TokenBundle
}

// refreshAndGet drives the refresh path for an expired (or
// about-to-expire) token. At most one in-flight HTTP refresh exists per
// key at a time; singleflight.Group.Do blocks every other caller on the
// same key until the owner's call returns, then hands them all the same
// result — and unconditionally forgets the key once Do returns, so a
// goroutine whose own ctx is cancelled while *waiting* never leaves the
// map wedged for the next caller. The HTTP round trip itself runs under
// a context detached from any single waiter's ctx, so one caller giving
// up does not abort the refresh for the others still waiting on it.
func (m *Manager) refreshAndGet(ctx context.Context, userID, providerName, tenantID string) (*TokenBundle, error) {
	key := refreshKey(userID, providerName, tenantID)

	v, err, _ := m.refresh.Do(key, func() (any, error) {
		return m.doRefresh(context.Background(), userID, providerName, tenantID)
	})

	// The owner's own ctx may have been cancelled while the refresh ran;
	// that's fine, the refresh itself is detached. But a *waiter* still
	// honors its own ctx: if it's already done, say so instead of
	// returning a result nobody asked to wait this long for.
	select {
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindOperationCancelled, "token refresh wait cancelled", ctx.Err())
	default:
	}

	if err != nil {
		return nil, err
	}
	result := v.(refreshResult)
	return &result.bundle, nil
}

// doRefresh performs the actual refresh_token grant. ctx is intentionally
// not the originating caller's context (see refreshAndGet).
func (m *Manager) doRefresh(ctx context.Context, userID, providerName, tenantID string) (refreshResult, error) {
	stored, err := m.store.GetUserProviderToken(ctx, userID, providerName, tenantID)
	if err != nil {
		return refreshResult{}, apperr.Wrap(apperr.KindInternal, "load user provider token", err)
	}

	aad := userTokenAAD(tenantID, userID, providerName)
	refreshToken, err := m.enc.Decrypt(stored.RefreshTokenEnc, aad)
	if err != nil {
		return refreshResult{}, apperr.Wrap(apperr.KindCryptoFailure, "decrypt refresh token", err)
	}
	if refreshToken == "" {
		return refreshResult{}, apperr.New(apperr.KindRefreshTokenRevoked, "no refresh token on file")
	}

	creds, err := m.store.GetTenantOAuthCredentials(ctx, tenantID, providerName)
	if err != nil {
		return refreshResult{}, apperr.Wrap(apperr.KindConfigurationMissing,
			fmt.Sprintf("no oauth client registered for tenant %q provider %q", tenantID, providerName), err)
	}
	descriptor, ok := m.registry.Descriptor(providerName)
	if !ok {
		return refreshResult{}, apperr.New(apperr.KindUnsupportedProvider, fmt.Sprintf("provider %q is not registered", providerName))
	}
	clientSecret, err := m.enc.Decrypt(creds.ClientSecretEnc, tenantSecretAAD(tenantID, providerName))
	if err != nil {
		return refreshResult{}, apperr.Wrap(apperr.KindCryptoFailure, "decrypt tenant client secret", err)
	}

	params := url.Values{}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", refreshToken)
	params.Set("client_id", creds.ClientID)
	params.Set("client_secret", clientSecret)

	tr, err := m.postTokenRequest(ctx, descriptor.TokenURL, params)
	if err != nil {
		var e *apperr.Error
		if errors.As(err, &e) && e.Kind == apperr.KindRefreshTokenRevoked {
			// Terminal: the refresh token itself is dead. Delete so the
			// user is prompted to reconnect rather than retried forever.
			_ = m.store.DeleteUserProviderToken(ctx, userID, providerName, tenantID)
		}
		return refreshResult{}, err
	}

	newToken, err := m.encryptUserToken(providerName, tenantID, userID, tr, stored.RefreshTokenEnc, time.Now().UTC())
	if err != nil {
		return refreshResult{}, err
	}
	if err := m.store.UpsertUserProviderToken(ctx, newToken); err != nil {
		return refreshResult{}, apperr.Wrap(apperr.KindInternal, "store refreshed token", err)
	}

	bundle, err := m.decryptBundle(newToken)
	if err != nil {
		return refreshResult{}, err
	}
	return refreshResult{bundle: bundle}, nil
}
