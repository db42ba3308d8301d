package llmcred

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/storage/memstore"
)

func testResolver(t *testing.T) (*Resolver, *memstore.Store, *crypto.EnvelopeStore) {
	t.Helper()
	key, err := crypto.DeriveKey("test-master-key")
	require.NoError(t, err)
	enc, err := crypto.NewEnvelopeStore(key)
	require.NoError(t, err)
	store := memstore.New(nil)
	return New(store, enc), store, enc
}

func seedCredential(t *testing.T, store *memstore.Store, enc *crypto.EnvelopeStore, tenantID, userID string, provider Provider, apiKey string) {
	t.Helper()
	ciphertext, err := enc.Encrypt(apiKey, aad(tenantID, userID, provider))
	require.NoError(t, err)
	require.NoError(t, store.UpsertLLMCredential(context.Background(), domain.LLMCredential{
		TenantID:  tenantID,
		UserID:    userID,
		Provider:  string(provider),
		APIKeyEnc: ciphertext,
		IsActive:  true,
	}))
}

func TestGetCredentials_UserSpecificBeatsTenantDefault(t *testing.T) {
	t.Parallel()
	r, store, enc := testResolver(t)
	ctx := context.Background()

	seedCredential(t, store, enc, "t1", "u1", ProviderGemini, "user-key")
	seedCredential(t, store, enc, "t1", "", ProviderGemini, "tenant-key")

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "user-key", got.APIKey)
	assert.Equal(t, SourceUserSpecific, got.Source)
}

func TestGetCredentials_FallsThroughToTenantDefault(t *testing.T) {
	t.Parallel()
	r, store, enc := testResolver(t)
	ctx := context.Background()

	seedCredential(t, store, enc, "t1", "", ProviderGemini, "tenant-key")

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "tenant-key", got.APIKey)
	assert.Equal(t, SourceTenantDefault, got.Source)
}

func TestGetCredentials_NoUserIDSkipsStraightToTenantDefault(t *testing.T) {
	t.Parallel()
	r, store, enc := testResolver(t)
	ctx := context.Background()

	seedCredential(t, store, enc, "t1", "", ProviderGemini, "tenant-key")

	got, err := r.GetCredentials(ctx, "t1", "", ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "tenant-key", got.APIKey)
	assert.Equal(t, SourceTenantDefault, got.Source)
}

func TestGetCredentials_InactiveCredentialIsSkipped(t *testing.T) {
	t.Parallel()
	r, store, enc := testResolver(t)
	ctx := context.Background()

	ciphertext, err := enc.Encrypt("user-key", aad("t1", "u1", ProviderGemini))
	require.NoError(t, err)
	require.NoError(t, store.UpsertLLMCredential(ctx, domain.LLMCredential{
		TenantID: "t1", UserID: "u1", Provider: string(ProviderGemini),
		APIKeyEnc: ciphertext, IsActive: false,
	}))
	seedCredential(t, store, enc, "t1", "", ProviderGemini, "tenant-key")

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "tenant-key", got.APIKey, "inactive user credential must not shadow the tenant default")
}

func TestGetCredentials_SystemOverride(t *testing.T) {
	t.Parallel()
	r, store, _ := testResolver(t)
	ctx := context.Background()

	store.SetAdminConfigOverride(domain.AdminConfigOverride{Key: "llm.groq_api_key", Scope: "system", Value: "override-key"})

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderGroq)
	require.NoError(t, err)
	assert.Equal(t, "override-key", got.APIKey)
	assert.Equal(t, SourceSystemOverride, got.Source)
}

func TestGetCredentials_LocalProviderSystemOverrideCarriesBaseURLAndModel(t *testing.T) {
	t.Parallel()
	r, store, _ := testResolver(t)
	ctx := context.Background()

	store.SetAdminConfigOverride(domain.AdminConfigOverride{Key: "llm.local_api_key", Scope: "system", Value: "local-key"})
	store.SetAdminConfigOverride(domain.AdminConfigOverride{Key: "llm.local_base_url", Scope: "system", Value: "http://localhost:11434"})
	store.SetAdminConfigOverride(domain.AdminConfigOverride{Key: "llm.local_model", Scope: "system", Value: "llama3"})

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderLocal)
	require.NoError(t, err)
	assert.Equal(t, "local-key", got.APIKey)
	assert.Equal(t, "http://localhost:11434", got.BaseURL)
	assert.Equal(t, "llama3", got.DefaultModel)
}

func TestGetCredentials_EnvironmentFallback(t *testing.T) {
	ctx := context.Background()
	r, _, _ := testResolver(t)

	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "env-key", got.APIKey)
	assert.Equal(t, SourceEnvironmentVar, got.Source)
}

func TestGetCredentials_LocalEnvironmentFallbackCarriesBaseURLAndModel(t *testing.T) {
	ctx := context.Background()
	r, _, _ := testResolver(t)

	t.Setenv("LOCAL_LLM_API_KEY", "local-env-key")
	t.Setenv("LOCAL_LLM_BASE_URL", "http://localhost:8080")
	t.Setenv("LOCAL_LLM_MODEL", "phi3")

	got, err := r.GetCredentials(ctx, "t1", "u1", ProviderLocal)
	require.NoError(t, err)
	assert.Equal(t, "local-env-key", got.APIKey)
	assert.Equal(t, "http://localhost:8080", got.BaseURL)
	assert.Equal(t, "phi3", got.DefaultModel)
}

func TestGetCredentials_NoTierMatchesReturnsNoCredentials(t *testing.T) {
	ctx := context.Background()
	r, _, _ := testResolver(t)

	_, err := r.GetCredentials(ctx, "t1", "u1", ProviderOpenAI)
	require.Error(t, err)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNoCredentials, appErr.Kind)
	assert.Equal(t, "OPENAI_API_KEY", appErr.Data["env_var"])
}

func TestGetCredentials_WrongTenantDoesNotSeeAnotherTenantsCredential(t *testing.T) {
	t.Parallel()
	r, store, enc := testResolver(t)
	ctx := context.Background()

	seedCredential(t, store, enc, "t1", "u1", ProviderGemini, "t1-key")

	_, err := r.GetCredentials(ctx, "t2", "u1", ProviderGemini)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNoCredentials, appErr.Kind)
}

func TestParseProvider(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Provider
	}{
		{"gemini", ProviderGemini},
		{"google", ProviderGemini},
		{"groq", ProviderGroq},
		{"openai", ProviderOpenAI},
		{"gpt", ProviderOpenAI},
		{"anthropic", ProviderAnthropic},
		{"claude", ProviderAnthropic},
		{"local", ProviderLocal},
		{"ollama", ProviderLocal},
	}
	for _, c := range cases {
		got, ok := ParseProvider(c.in)
		assert.True(t, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, ok := ParseProvider("unknown-provider")
	assert.False(t, ok)
}
