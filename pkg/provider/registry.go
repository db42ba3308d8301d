package provider

import (
	"fmt"
	"sort"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/cache"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/logger"
)

// Factory constructs a FitnessProvider instance from its runtime config.
type Factory func(cfg domain.ProviderConfig) (FitnessProvider, error)

// Registry owns the closed set of provider integrations this deployment
// knows about. Built once at startup from Register calls and never
// mutated afterward — descriptors, factories, and default configs are
// all read-only once Build-time registration is finished.
type Registry struct {
	factories     map[string]Factory
	descriptors   map[string]domain.ProviderDescriptor
	defaultConfig map[string]domain.ProviderConfig
}

// NewRegistry constructs an empty registry; call Register for each
// supported provider before treating it as ready.
func NewRegistry() *Registry {
	return &Registry{
		factories:     make(map[string]Factory),
		descriptors:   make(map[string]domain.ProviderDescriptor),
		defaultConfig: make(map[string]domain.ProviderConfig),
	}
}

// Register adds one provider to the registry. Called once per provider
// at startup; logs the registration the way toolhive logs component
// startup in cmd/vmcp/app.
func (r *Registry) Register(descriptor domain.ProviderDescriptor, defaultConfig domain.ProviderConfig, factory Factory) {
	r.descriptors[descriptor.Name] = descriptor
	r.defaultConfig[descriptor.Name] = defaultConfig
	r.factories[descriptor.Name] = factory
	logger.Infof("provider registry: registered %s (capabilities=%v, pkce=%v)",
		descriptor.Name, capabilityNames(descriptor), descriptor.UsesPKCE)
}

func capabilityNames(d domain.ProviderDescriptor) []string {
	var names []string
	for cap, ok := range d.Capabilities {
		if ok {
			names = append(names, string(cap))
		}
	}
	sort.Strings(names)
	return names
}

// IsSupported reports whether name has been registered.
func (r *Registry) IsSupported(name string) bool {
	_, ok := r.descriptors[name]
	return ok
}

// SupportsSleep reports the sleep capability without constructing an instance.
func (r *Registry) SupportsSleep(name string) bool {
	return r.descriptors[name].HasCapability(domain.CapabilitySleep)
}

// SupportsRecovery reports the recovery capability without constructing an instance.
func (r *Registry) SupportsRecovery(name string) bool {
	return r.descriptors[name].HasCapability(domain.CapabilityRecovery)
}

// GetCapabilities returns the descriptor's full capability set.
func (r *Registry) GetCapabilities(name string) map[domain.Capability]bool {
	return r.descriptors[name].Capabilities
}

// Descriptor returns the static descriptor for name.
func (r *Registry) Descriptor(name string) (domain.ProviderDescriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// DefaultConfig returns the startup-merged default ProviderConfig for name.
func (r *Registry) DefaultConfig(name string) (domain.ProviderConfig, bool) {
	c, ok := r.defaultConfig[name]
	return c, ok
}

// Names returns every registered provider name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for n := range r.descriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CreateProvider constructs a bare, uncredentialed provider instance.
func (r *Registry) CreateProvider(name string) (FitnessProvider, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, apperr.New(apperr.KindUnsupportedProvider, fmt.Sprintf("provider %q is not registered", name))
	}
	cfg, ok := r.defaultConfig[name]
	if !ok {
		return nil, apperr.New(apperr.KindConfigurationMissing, fmt.Sprintf("no default config for provider %q", name))
	}
	return factory(cfg)
}

// CreateTenantProvider wraps a freshly constructed provider with the
// tenant-context decorator, annotating every call's logs with the
// tenant and user. Grounded on original_source's TenantProvider wrapper
// (providers/core.rs).
func (r *Registry) CreateTenantProvider(name, tenantID, userID string) (FitnessProvider, error) {
	inner, err := r.CreateProvider(name)
	if err != nil {
		return nil, err
	}
	return NewTenantProvider(inner, tenantID, userID), nil
}

// CreateCachingProvider wraps provider with the read-through cache
// decorator (C9). The dispatcher calls this after CreateTenantProvider
// for tools expected to repeat within the cache's TTL window.
func (r *Registry) CreateCachingProvider(inner FitnessProvider, backend cache.Provider, tenantID, userID string) FitnessProvider {
	return NewCachingProvider(inner, backend, tenantID, userID)
}
