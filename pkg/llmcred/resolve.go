package llmcred

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/logger"
)

const (
	localBaseURLEnv = "LOCAL_LLM_BASE_URL"
	localModelEnv   = "LOCAL_LLM_MODEL"
)

// GetCredentials resolves LLM credentials for (tenantID, userID, provider)
// through the four-tier chain. userID may be empty to skip straight to
// the tenant-default tier (e.g. a background job with no acting user).
func (r *Resolver) GetCredentials(ctx context.Context, tenantID, userID string, provider Provider) (Credentials, error) {
	if userID != "" {
		if creds, ok := r.tryStored(ctx, tenantID, userID, provider, SourceUserSpecific); ok {
			logger.Infof("llmcred: using user-specific %s credentials for user %s (tenant %s)", provider, userID, tenantID)
			return creds, nil
		}
	}

	if creds, ok := r.tryStored(ctx, tenantID, "", provider, SourceTenantDefault); ok {
		logger.Infof("llmcred: using tenant-default %s credentials (tenant %s)", provider, tenantID)
		return creds, nil
	}

	if creds, ok := r.trySystemOverride(ctx, tenantID, provider); ok {
		logger.Infof("llmcred: using system-override %s credentials (tenant %s)", provider, tenantID)
		return creds, nil
	}

	if creds, ok := r.tryEnvironment(provider); ok {
		logger.Infof("llmcred: using environment variable %s", provider.envVarName())
		return creds, nil
	}

	return Credentials{}, apperr.New(apperr.KindNoCredentials, fmt.Sprintf(
		"no %s API credentials configured; set %s or configure per-tenant credentials", provider, provider.envVarName())).
		WithData(map[string]any{"provider": string(provider), "env_var": provider.envVarName()})
}

func (r *Resolver) tryStored(ctx context.Context, tenantID, userID string, provider Provider, source Source) (Credentials, bool) {
	record, err := r.store.GetLLMCredential(ctx, tenantID, userID, string(provider))
	if err != nil {
		if !isNotFound(err) {
			logger.Warnf("llmcred: error fetching %s credentials (tenant %s user %q): %v", provider, tenantID, userID, err)
		}
		return Credentials{}, false
	}
	if !record.IsActive {
		return Credentials{}, false
	}

	apiKey, err := r.enc.Decrypt(record.APIKeyEnc, aad(tenantID, userID, provider))
	if err != nil {
		logger.Warnf("llmcred: failed to decrypt %s credentials (tenant %s user %q): %v", provider, tenantID, userID, err)
		return Credentials{}, false
	}

	return Credentials{
		Provider:     provider,
		APIKey:       apiKey,
		BaseURL:      record.BaseURL,
		DefaultModel: record.DefaultModel,
		Source:       source,
	}, true
}

func (r *Resolver) trySystemOverride(ctx context.Context, tenantID string, provider Provider) (Credentials, bool) {
	key := fmt.Sprintf("llm.%s_api_key", provider)
	override, err := r.store.GetAdminConfigOverride(ctx, key, "system")
	if err != nil {
		return Credentials{}, false
	}

	creds := Credentials{Provider: provider, APIKey: override.Value, Source: SourceSystemOverride}
	if provider == ProviderLocal {
		if base, err := r.store.GetAdminConfigOverride(ctx, "llm.local_base_url", "system"); err == nil {
			creds.BaseURL = base.Value
		}
		if model, err := r.store.GetAdminConfigOverride(ctx, "llm.local_model", "system"); err == nil {
			creds.DefaultModel = model.Value
		}
	}
	_ = tenantID // carried for symmetry with the other tiers; overrides are system-scoped, not per-tenant
	return creds, true
}

func (r *Resolver) tryEnvironment(provider Provider) (Credentials, bool) {
	apiKey, ok := os.LookupEnv(provider.envVarName())
	if !ok || apiKey == "" {
		return Credentials{}, false
	}

	creds := Credentials{Provider: provider, APIKey: apiKey, Source: SourceEnvironmentVar}
	if provider == ProviderLocal {
		creds.BaseURL = os.Getenv(localBaseURLEnv)
		creds.DefaultModel = os.Getenv(localModelEnv)
	}
	return creds, true
}

func isNotFound(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindNotFound
}
