package adapters

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/courseaccess/internal/payment/domain"
)

// Registry holds one configured adapter per provider, built at startup.
type Registry struct {
	adapters map[string]domain.Adapter
}

// NewRegistry builds an adapter for every factory that has a matching config.
// Factories without config are skipped so a provider can be disabled by
// leaving its secret unset.
func NewRegistry(configs []domain.AdapterConfig, factories ...domain.AdapterFactory) (*Registry, error) {
	byProvider := map[string]domain.AdapterFactory{}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		byProvider[normalize(factory.Provider())] = factory
	}

	registry := &Registry{adapters: map[string]domain.Adapter{}}
	for _, cfg := range configs {
		provider := normalize(cfg.Provider)
		factory, ok := byProvider[provider]
		if !ok {
			return nil, fmt.Errorf("%w: no adapter for provider %q", domain.ErrProviderNotFound, cfg.Provider)
		}
		adapter, err := factory.NewAdapter(cfg)
		if err != nil {
			return nil, fmt.Errorf("configure %s adapter: %w", provider, err)
		}
		registry.adapters[provider] = adapter
	}
	return registry, nil
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.adapters[normalize(provider)]
	return ok
}

func (r *Registry) Adapter(provider string) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
