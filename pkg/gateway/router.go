package gateway

import (
	"context"
	"log/slog"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// Router picks the provider that serves a requested model.
//
// Selection order:
//  1. enabled providers linked to the model, highest priority first
//     (lowest id breaks ties);
//  2. the active_provider setting, when set and enabled;
//  3. otherwise NoProviderError.
type Router struct {
	store    *store.Store
	registry *providers.Registry
	logger   *slog.Logger
}

// NewRouter creates a router over the store and registry.
func NewRouter(st *store.Store, reg *providers.Registry) *Router {
	return &Router{
		store:    st,
		registry: reg,
		logger:   slog.Default().With("component", "router"),
	}
}

// Select resolves the adapter and provider row for a model.
func (r *Router) Select(ctx context.Context, model string) (providers.Provider, *store.Provider, error) {
	linked, err := r.store.ProvidersForModel(ctx, model)
	if err != nil {
		return nil, nil, err
	}

	for _, row := range linked {
		p, err := r.registry.Get(ctx, row.ID)
		if err != nil {
			// A linked provider that cannot be built falls through to the
			// next candidate rather than failing the request.
			r.logger.Warn("skipping unbuildable provider",
				"provider", row.ID, "model", model, "error", err)
			continue
		}
		return p, row, nil
	}

	active := r.store.SettingValue(ctx, "active_provider", "")
	if active != "" {
		row, err := r.store.GetProvider(ctx, active)
		if err == nil && row.Enabled {
			p, err := r.registry.Get(ctx, row.ID)
			if err == nil {
				r.logger.Debug("routed via active_provider", "provider", row.ID, "model", model)
				return p, row, nil
			}
			r.logger.Warn("active_provider not buildable", "provider", active, "error", err)
		}
	}

	return nil, nil, &providers.NoProviderError{Model: model}
}
