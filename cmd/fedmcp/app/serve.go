package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/cache"
	"github.com/stacklok/fedmcp/pkg/config"
	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/dispatch"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/logger"
	"github.com/stacklok/fedmcp/pkg/mcpserver"
	"github.com/stacklok/fedmcp/pkg/oauthmgr"
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/provider/terra"
	"github.com/stacklok/fedmcp/pkg/providerreg"
	"github.com/stacklok/fedmcp/pkg/ratelimit"
	"github.com/stacklok/fedmcp/pkg/storage"
	"github.com/stacklok/fedmcp/pkg/storage/memstore"
	"github.com/stacklok/fedmcp/pkg/storage/sqlstore"
	"github.com/stacklok/fedmcp/pkg/toolcatalog"
)

const masterKeySecretName = "envelope_master_key"

// runServe wires every component and blocks until ctx is canceled: it
// builds storage, crypto, the provider registry, the tool catalog, the
// dispatcher, and the MCP server, then runs a stdio JSON-RPC loop
// alongside a small HTTP listener for the OAuth callback.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(providerreg.Names())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	if err := toolcatalog.SeedGlobalDisabledTools(ctx, store, cfg.DisabledTools); err != nil {
		return fmt.Errorf("seed disabled tools: %w", err)
	}

	enc, err := bootstrapEnvelopeStore(ctx, store)
	if err != nil {
		return fmt.Errorf("bootstrap envelope encryption: %w", err)
	}

	terraCache := terra.NewWebhookCache()
	registry := provider.NewRegistry()
	providerreg.RegisterAll(registry, terraCache)

	tokens := oauthmgr.New(store, enc, registry, nil)
	catalog := toolcatalog.New(store)
	limiter := ratelimit.New(tiersFromConfig(cfg.RateLimit))

	cacheBackend, err := buildCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	dispatcher := dispatch.New(catalog, registry, tokens, store, limiter, cacheBackend)
	server := mcpserver.New(catalog, dispatcher, "fedmcp", version)

	logger.Infof("fedmcp serving MCP tools over stdio, oauth callback on :%d", cfg.Listener.OAuthCallbackPort)

	callbackErrCh := make(chan error, 1)
	go func() {
		callbackErrCh <- serveOAuthCallback(ctx, cfg, tokens)
	}()

	stdioErrCh := make(chan error, 1)
	go func() {
		stdioErrCh <- serveStdio(ctx, server, signingKeyPrincipalSource(cfg))
	}()

	select {
	case err := <-callbackErrCh:
		return err
	case err := <-stdioErrCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// openStore chooses sqlstore when cfg.Database.URL names a real DSN, or
// memstore (seeded with the default catalog) when it's empty or the
// literal "memory" — e.g. for local development or tests of the binary.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.URL == "" || cfg.Database.URL == "memory" {
		logger.Infof("using in-memory storage (database.url=%q)", cfg.Database.URL)
		return memstore.New(toolcatalog.DefaultCatalog), nil
	}
	logger.Infof("opening sqlite storage at %s", cfg.Database.URL)
	return sqlstore.Open(ctx, cfg.Database.URL)
}

// bootstrapEnvelopeStore loads (or, on first boot, generates) the
// process-wide envelope-encryption master key from the system-secrets
// table, so the key survives process restarts without an operator
// having to manage a key file.
func bootstrapEnvelopeStore(ctx context.Context, store storage.Store) (*crypto.EnvelopeStore, error) {
	secret, err := store.GetOrCreateSystemSecret(ctx, masterKeySecretName, generateMasterKey)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(secret.Value)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCryptoFailure, "decode stored master key", err)
	}
	return crypto.NewEnvelopeStore(key)
}

func generateMasterKey() (string, error) {
	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", apperr.Wrap(apperr.KindCryptoFailure, "generate master key", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func tiersFromConfig(tiers map[domain.Plan]config.RateLimitTierConfig) map[domain.Plan]ratelimit.TierLimits {
	out := make(map[domain.Plan]ratelimit.TierLimits, len(tiers))
	for plan, t := range tiers {
		out[plan] = ratelimit.TierLimits{RatePerSecond: t.RatePerSecond, Burst: t.Burst}
	}
	return out
}

func buildCache(cfg config.CacheConfig) (cache.Provider, error) {
	if cfg.BackendURL == "" {
		return cache.NewMemoryProvider(cfg.MaxEntries), nil
	}
	opts, err := redis.ParseURL(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache.backend_url: %w", err)
	}
	return cache.NewRedisProvider(redis.NewClient(opts)), nil
}

// signingKeyPrincipalSource exists purely to keep runServe's wiring in
// one place; authn.Verifier construction lives in transport.go next to
// the code that actually calls it.
func signingKeyPrincipalSource(cfg *config.Config) []byte {
	if len(cfg.Auth.SigningKey) == 0 {
		logger.Warnf("JWT_SIGNING_KEY not set; issuing an ephemeral per-process signing key")
		return ephemeralSigningKey()
	}
	return cfg.Auth.SigningKey
}

func ephemeralSigningKey() []byte {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return key
}
