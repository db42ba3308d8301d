package oauthmgr

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

// ExchangeCode completes an authorization-code flow for a callback
// carrying (code, state): it atomically redeems the pending-state record
// left by BuildAuthorizationURL, posts to the provider's token endpoint,
// and persists the resulting UserProviderToken.
func (m *Manager) ExchangeCode(ctx context.Context, code, state string) error {
	pending, err := m.store.GetAndDeletePendingOAuthState(ctx, state)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidParams, "oauth state not found or already used", err)
	}
	if time.Now().UTC().After(pending.ExpiresAt) {
		return apperr.New(apperr.KindInvalidParams, "oauth state expired")
	}

	creds, err := m.store.GetTenantOAuthCredentials(ctx, pending.TenantID, pending.ProviderName)
	if err != nil {
		return apperr.Wrap(apperr.KindConfigurationMissing,
			fmt.Sprintf("no oauth client registered for tenant %q provider %q", pending.TenantID, pending.ProviderName), err)
	}

	descriptor, ok := m.registry.Descriptor(pending.ProviderName)
	if !ok {
		return apperr.New(apperr.KindUnsupportedProvider, fmt.Sprintf("provider %q is not registered", pending.ProviderName))
	}

	clientSecret, err := m.enc.Decrypt(creds.ClientSecretEnc, tenantSecretAAD(pending.TenantID, pending.ProviderName))
	if err != nil {
		return apperr.Wrap(apperr.KindCryptoFailure, "decrypt tenant client secret", err)
	}

	params := url.Values{}
	params.Set("grant_type", "authorization_code")
	params.Set("code", code)
	params.Set("redirect_uri", creds.RedirectURI)
	params.Set("client_id", creds.ClientID)
	params.Set("client_secret", clientSecret)
	if pending.CodeVerifier != "" {
		params.Set("code_verifier", pending.CodeVerifier)
	}

	tr, err := m.postTokenRequest(ctx, descriptor.TokenURL, params)
	if err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return apperr.New(apperr.KindProviderParseError, "token endpoint returned no access_token")
	}

	token, err := m.encryptUserToken(pending.ProviderName, pending.TenantID, pending.UserID, tr, "", time.Now().UTC())
	if err != nil {
		return err
	}

	if err := m.store.UpsertUserProviderToken(ctx, token); err != nil {
		return apperr.Wrap(apperr.KindInternal, "store user provider token", err)
	}
	return nil
}
