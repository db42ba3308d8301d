// Package llmcred resolves which LLM API key a handler should use for a
// given tenant/user/provider, walking a four-tier precedence chain:
// user-specific credential, tenant-level default, system-wide admin
// override, environment variable. Grounded on original_source's
// TenantLlmManager (tenant/llm_manager.rs).
package llmcred

import (
	"strings"

	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/storage"
)

// Provider is the set of LLM providers this deployment can resolve
// credentials for.
type Provider string

// The closed set of supported LLM providers.
const (
	ProviderGemini    Provider = "gemini"
	ProviderGroq      Provider = "groq"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderLocal     Provider = "local"
)

// envVarName returns the environment variable fallback for a provider
// (spec §4.7 tier 4).
func (p Provider) envVarName() string {
	switch p {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderLocal:
		return "LOCAL_LLM_API_KEY"
	default:
		return ""
	}
}

// ParseProvider parses a case-insensitive provider name, accepting the
// common aliases original_source recognized.
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(s) {
	case "gemini", "google":
		return ProviderGemini, true
	case "groq":
		return ProviderGroq, true
	case "openai", "gpt":
		return ProviderOpenAI, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	case "local", "ollama", "vllm", "localai":
		return ProviderLocal, true
	default:
		return "", false
	}
}

// Source records which precedence tier produced a Credentials value.
type Source string

// The four resolution tiers, in the order they're tried.
const (
	SourceUserSpecific   Source = "user-specific"
	SourceTenantDefault  Source = "tenant-default"
	SourceSystemOverride Source = "system-override"
	SourceEnvironmentVar Source = "environment-variable"
)

// Credentials is the resolved, decrypted view of an LLM API key plus
// whatever local-provider extras (base URL, model override) came with
// the tier that produced it.
type Credentials struct {
	Provider     Provider
	APIKey       string
	BaseURL      string
	DefaultModel string
	Source       Source
}

const tenantDefaultAADSlot = "tenant-default"

func aad(tenantID, userID string, provider Provider) string {
	slot := userID
	if slot == "" {
		slot = tenantDefaultAADSlot
	}
	return tenantID + "|" + slot + "|" + string(provider) + "|user_llm_credentials"
}

// Resolver walks the four-tier precedence chain.
type Resolver struct {
	store storage.Store
	enc   *crypto.EnvelopeStore
}

// New constructs a Resolver.
func New(store storage.Store, enc *crypto.EnvelopeStore) *Resolver {
	return &Resolver{store: store, enc: enc}
}
