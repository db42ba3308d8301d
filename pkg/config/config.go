// Package config implements fedmcp's viper-bound configuration
// surface: the closed enumeration of keys spec.md §6.6 names, read
// from built-in defaults, an optional config file, and environment
// variables (prefixed FEDMCP_), in that increasing order of
// precedence. pkg/llmcred reads its own provider API key environment
// variables directly rather than through this package — see its doc
// comment — so LLM credentials are deliberately absent from Config.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/stacklok/fedmcp/pkg/domain"
)

// ListenerConfig controls network binding.
type ListenerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	OAuthCallbackPort int    `mapstructure:"oauth_callback_port"`
	BaseURL           string `mapstructure:"base_url"`
}

// DatabaseConfig controls the sqlstore persistence port.
type DatabaseConfig struct {
	URL                  string `mapstructure:"url"`
	PoolMin              int    `mapstructure:"pool_min"`
	PoolMax              int    `mapstructure:"pool_max"`
	ConnectTimeoutSecs   int    `mapstructure:"connect_timeout_secs"`
	QueryTimeoutSecs     int    `mapstructure:"query_timeout_secs"`
	MigrationTimeoutSecs int    `mapstructure:"migration_timeout_secs"`
	MaxRetries           int    `mapstructure:"max_retries"`
	BackoffBaseMillis    int    `mapstructure:"backoff_base_millis"`
}

// AuthConfig controls session lifetimes. SigningKey is deliberately not
// a mapstructure field: like the per-provider OAuth secrets, it is read
// directly from the bare JWT_SIGNING_KEY environment variable rather
// than through viper's FEDMCP_-prefixed surface, since it's a secret,
// not an operator-tunable setting.
type AuthConfig struct {
	JWTExpiryHours         int `mapstructure:"jwt_expiry_hours"`
	AdminTokenCacheTTLSecs int `mapstructure:"admin_token_cache_ttl_secs"`
	SigningKey             []byte
}

// ProviderOAuthConfig is one provider's OAuth client registry default,
// keyed by provider name in Config.OAuthProviders.
type ProviderOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Enabled      bool
}

// CacheConfig controls the read-through cache. Per-resource TTLs are
// NOT here: they are hardcoded constants in pkg/cache/key.go, since
// spec.md ties each resource's TTL to its own staleness semantics
// rather than leaving it operator-tunable.
type CacheConfig struct {
	BackendURL          string `mapstructure:"backend_url"`
	CleanupIntervalSecs int    `mapstructure:"cleanup_interval_secs"`
	MaxEntries          int    `mapstructure:"max_entries"`
}

// RateLimitTierConfig is one plan tier's token bucket shape, fed
// straight into pkg/ratelimit.TierLimits.
type RateLimitTierConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// TLSConfig controls transport-level TLS termination.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// SecurityConfig controls CORS and the production validation gate.
type SecurityConfig struct {
	CORSOrigins   []string `mapstructure:"cors_origins"`
	Environment   string   `mapstructure:"environment"` // "production" or "development"
	OIDCIssuerURL string   `mapstructure:"oidc_issuer_url"`
}

// Config is the fully resolved configuration surface.
type Config struct {
	Listener       ListenerConfig                      `mapstructure:"listener"`
	Database       DatabaseConfig                      `mapstructure:"database"`
	Auth           AuthConfig                          `mapstructure:"auth"`
	Cache          CacheConfig                         `mapstructure:"cache"`
	RateLimit      map[domain.Plan]RateLimitTierConfig `mapstructure:"-"`
	DisabledTools  []string                            `mapstructure:"disabled_tools"`
	TLS            TLSConfig                           `mapstructure:"tls"`
	Security       SecurityConfig                      `mapstructure:"security"`
	OAuthProviders map[string]ProviderOAuthConfig      `mapstructure:"-"`
}

// Load reads the configuration file (if present), environment
// variables, and defaults into a Config. providerNames generates the
// per-provider OAuth key set (`{PROVIDER}_CLIENT_ID` etc.) dynamically
// rather than requiring each provider to be hand-enumerated here —
// callers pass providerreg.Names().
func Load(providerNames []string) (*Config, error) {
	viper.SetConfigName("fedmcp")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/fedmcp/")
	viper.AddConfigPath("$HOME/.fedmcp")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvPrefix("FEDMCP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.RateLimit = loadRateLimitTiers()
	cfg.OAuthProviders = loadProviderOAuthConfigs(providerNames)
	cfg.Auth.SigningKey = []byte(os.Getenv("JWT_SIGNING_KEY"))

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("listener.host", "0.0.0.0")
	viper.SetDefault("listener.port", 8080)
	viper.SetDefault("listener.oauth_callback_port", 8081)
	viper.SetDefault("listener.base_url", "http://localhost:8080")

	viper.SetDefault("database.url", "fedmcp.db")
	viper.SetDefault("database.pool_min", 2)
	viper.SetDefault("database.pool_max", 10)
	viper.SetDefault("database.connect_timeout_secs", 5)
	viper.SetDefault("database.query_timeout_secs", 10)
	viper.SetDefault("database.migration_timeout_secs", 60)
	viper.SetDefault("database.max_retries", 3)
	viper.SetDefault("database.backoff_base_millis", 200)

	viper.SetDefault("auth.jwt_expiry_hours", 24)
	viper.SetDefault("auth.admin_token_cache_ttl_secs", 300)

	viper.SetDefault("cache.backend_url", "")
	viper.SetDefault("cache.cleanup_interval_secs", 60)
	viper.SetDefault("cache.max_entries", 10000)

	viper.SetDefault("disabled_tools", []string{})

	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cert_path", "")
	viper.SetDefault("tls.key_path", "")

	viper.SetDefault("security.cors_origins", []string{})
	viper.SetDefault("security.environment", "development")
	viper.SetDefault("security.oidc_issuer_url", "")

	for plan, tier := range defaultRateLimitTiers {
		viper.SetDefault("rate_limit."+string(plan)+".rate_per_second", tier.RatePerSecond)
		viper.SetDefault("rate_limit."+string(plan)+".burst", tier.Burst)
	}
}

var defaultRateLimitTiers = map[domain.Plan]RateLimitTierConfig{
	domain.PlanTrial:        {RatePerSecond: 1, Burst: 5},
	domain.PlanStarter:      {RatePerSecond: 5, Burst: 20},
	domain.PlanProfessional: {RatePerSecond: 20, Burst: 60},
	domain.PlanEnterprise:   {RatePerSecond: 0, Burst: 0}, // 0 rate means unlimited
}

func loadRateLimitTiers() map[domain.Plan]RateLimitTierConfig {
	tiers := make(map[domain.Plan]RateLimitTierConfig, len(defaultRateLimitTiers))
	for plan := range defaultRateLimitTiers {
		tiers[plan] = RateLimitTierConfig{
			RatePerSecond: viper.GetFloat64("rate_limit." + string(plan) + ".rate_per_second"),
			Burst:         viper.GetInt("rate_limit." + string(plan) + ".burst"),
		}
	}
	return tiers
}

// loadProviderOAuthConfigs reads {PROVIDER}_CLIENT_ID etc. straight
// from the process environment via os.Getenv, bypassing viper: these
// keys are bare (no FEDMCP_ prefix) per spec.md §6.6, and viper's
// AutomaticEnv would otherwise prefix every lookup uniformly.
func loadProviderOAuthConfigs(providerNames []string) map[string]ProviderOAuthConfig {
	configs := make(map[string]ProviderOAuthConfig, len(providerNames))
	for _, name := range providerNames {
		upper := strings.ToUpper(name)
		scopes := os.Getenv(upper + "_SCOPES")
		var scopeList []string
		for _, s := range strings.Split(scopes, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				scopeList = append(scopeList, trimmed)
			}
		}
		configs[name] = ProviderOAuthConfig{
			ClientID:     os.Getenv(upper + "_CLIENT_ID"),
			ClientSecret: os.Getenv(upper + "_CLIENT_SECRET"),
			RedirectURI:  os.Getenv(upper + "_REDIRECT_URI"),
			Scopes:       scopeList,
			Enabled:      os.Getenv(upper+"_ENABLED") == "true",
		}
	}
	return configs
}

// validate enforces spec.md §6.6's "production REQUIRES HTTPS issuer
// URL" gate and the TLS cert/key pairing.
func validate(cfg *Config) error {
	if cfg.Security.Environment == "production" {
		if cfg.Security.OIDCIssuerURL == "" {
			return fmt.Errorf("security.oidc_issuer_url is required when security.environment is production")
		}
		if !strings.HasPrefix(cfg.Security.OIDCIssuerURL, "https://") {
			return fmt.Errorf("security.oidc_issuer_url must use https in production, got %q", cfg.Security.OIDCIssuerURL)
		}
		if len(cfg.Auth.SigningKey) == 0 {
			return fmt.Errorf("JWT_SIGNING_KEY is required when security.environment is production")
		}
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return fmt.Errorf("tls.cert_path and tls.key_path are required when tls.enabled is true")
	}
	return nil
}
