package oauthmgr

import (
	"context"
	"net/url"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/logger"
)

// Disconnect revokes and deletes a user's token for provider. Revocation
// is best-effort: a failure is logged, never returned, since the local
// record must be removed either way (a dead revoke call must not leave
// fedmcp believing the user is still connected).
func (m *Manager) Disconnect(ctx context.Context, userID, providerName, tenantID string) error {
	stored, err := m.store.GetUserProviderToken(ctx, userID, providerName, tenantID)
	if err == nil {
		m.revokeBestEffort(ctx, providerName, tenantID, userID, stored.AccessTokenEnc)
	}

	if err := m.store.DeleteUserProviderToken(ctx, userID, providerName, tenantID); err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete user provider token", err)
	}
	return nil
}

func (m *Manager) revokeBestEffort(ctx context.Context, providerName, tenantID, userID, accessTokenEnc string) {
	descriptor, ok := m.registry.Descriptor(providerName)
	if !ok || descriptor.RevokeURL == "" {
		return
	}

	aad := userTokenAAD(tenantID, userID, providerName)
	accessToken, err := m.enc.Decrypt(accessTokenEnc, aad)
	if err != nil || accessToken == "" {
		logger.Warnf("oauthmgr: skip revoke for %s/%s: %v", providerName, userID, err)
		return
	}

	params := url.Values{}
	params.Set("token", accessToken)
	if _, err := m.postTokenRequest(ctx, descriptor.RevokeURL, params); err != nil {
		logger.Warnf("oauthmgr: revoke call to %s failed for user %s: %v", providerName, userID, err)
	}
}
