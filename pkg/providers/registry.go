package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// Factory builds a Provider adapter from its database row and config map.
// One factory is registered per provider type.
type Factory func(row *store.Provider, config map[string]store.ConfigValue) (Provider, error)

// Registry instantiates provider adapters lazily from their database rows
// and caches them. The generation counter is persisted in the database: the
// control plane bumps it after any provider mutation, and every Get in every
// process compares its cached adapter against the persisted value, so config
// edits take effect on the gateway's next use without a restart.
type Registry struct {
	store     *store.Store
	factories map[string]Factory
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]*cachedProvider
}

type cachedProvider struct {
	provider   Provider
	generation uint64
}

// NewRegistry creates a registry over the given store.
func NewRegistry(st *store.Store) *Registry {
	return &Registry{
		store:     st,
		factories: make(map[string]Factory),
		logger:    slog.Default().With("component", "registry"),
		cache:     make(map[string]*cachedProvider),
	}
}

// RegisterFactory installs the adapter factory for a provider type.
// Registering the same type twice replaces the factory.
func (r *Registry) RegisterFactory(providerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = f
}

// Invalidate bumps the persisted generation so every cached adapter, in this
// process and in siblings sharing the database, is rebuilt on its next Get.
// Call after any provider create, update, config change, or enable/disable.
func (r *Registry) Invalidate(ctx context.Context) error {
	if err := r.store.BumpRegistryGeneration(ctx); err != nil {
		return fmt.Errorf("registry: invalidate: %w", err)
	}
	r.logger.Debug("registry invalidated")
	return nil
}

// Get returns the adapter for a provider id, building it from the database
// if it is not cached at the current generation. Disabled providers and
// unknown ids return store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Provider, error) {
	gen, err := r.store.RegistryGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: read generation: %w", err)
	}

	r.mu.Lock()
	if c, ok := r.cache[id]; ok && c.generation == gen {
		p := c.provider
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	row, err := r.store.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if !row.Enabled {
		return nil, store.ErrNotFound
	}

	config, err := r.store.GetProviderConfig(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("registry: load config for %s: %w", id, err)
	}

	p, err := r.build(row, config)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.cache[id]; ok {
		old.provider.Close()
	}
	// A bump that lands while building leaves this entry one generation
	// behind, so the next Get rebuilds it.
	r.cache[id] = &cachedProvider{provider: p, generation: gen}
	return p, nil
}

// build validates the row and invokes the type's factory.
func (r *Registry) build(row *store.Provider, config map[string]store.ConfigValue) (Provider, error) {
	if !KnownType(row.Type) {
		return nil, &ConfigError{Provider: row.ID, Field: "type", Message: fmt.Sprintf("unknown provider type %q", row.Type)}
	}
	for _, key := range RequiredConfigKeys(row.Type) {
		if cv, ok := config[key]; !ok || cv.Value == "" {
			return nil, &ConfigError{Provider: row.ID, Field: key, Message: "required config key missing"}
		}
	}

	r.mu.Lock()
	factory, ok := r.factories[row.Type]
	r.mu.Unlock()
	if !ok {
		return nil, &ConfigError{Provider: row.ID, Field: "type", Message: fmt.Sprintf("no factory registered for type %q", row.Type)}
	}

	p, err := factory(row, config)
	if err != nil {
		return nil, err
	}
	r.logger.Info("provider adapter built", "provider", row.ID, "type", row.Type)
	return p, nil
}

// Close closes every cached adapter.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for id, c := range r.cache {
		if err := c.provider.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.cache, id)
	}
	return first
}
