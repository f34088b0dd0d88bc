package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/events"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// maskedValue replaces sensitive config values on read.
const maskedValue = "***MASKED***"

// providerBody is the create/update request shape. Config is optional; when
// present on create it is written in the same operation.
type providerBody struct {
	ID          string                       `json:"id"`
	Name        string                       `json:"name"`
	Type        string                       `json:"type"`
	Enabled     *bool                        `json:"enabled"`
	Priority    *int                         `json:"priority"`
	Description string                       `json:"description"`
	Config      map[string]store.ConfigValue `json:"config"`
}

// publishProviders broadcasts a providers:updated event reflecting the
// post-commit state.
func (s *Server) publishProviders(ctx context.Context, action, providerID string) {
	items, err := s.store.ListProviders(ctx, "", nil)
	if err != nil {
		s.logger.Error("failed to load providers for event", "error", err)
		return
	}
	enabled := 0
	for _, p := range items {
		if p.Enabled {
			enabled++
		}
	}
	s.hub.Publish(events.TypeProvidersUpdated, map[string]interface{}{
		"action":     action,
		"providerId": providerID,
		"items":      items,
		"total":      len(items),
		"enabled":    enabled,
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	var enabledFilter *bool
	switch r.URL.Query().Get("enabled") {
	case "":
	case "true":
		v := true
		enabledFilter = &v
	case "false":
		v := false
		enabledFilter = &v
	default:
		validationError(w, r, "enabled", "enabled must be true or false")
		return
	}

	items, err := s.store.ListProviders(r.Context(), r.URL.Query().Get("type"), enabledFilter)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"providers": items, "total": len(items)})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProvider(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var body providerBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !store.ProviderIDPattern.MatchString(body.ID) {
		validationError(w, r, "id", "id must match ^[a-z0-9-]+$")
		return
	}
	if body.Name == "" {
		validationError(w, r, "name", "name is required")
		return
	}
	if !providers.KnownType(body.Type) {
		validationError(w, r, "type", "type is not a recognised provider type")
		return
	}

	p := &store.Provider{
		ID:          body.ID,
		Name:        body.Name,
		Type:        body.Type,
		Enabled:     body.Enabled == nil || *body.Enabled,
		Description: body.Description,
	}
	if body.Priority != nil {
		p.Priority = *body.Priority
	}

	if err := s.store.CreateProvider(r.Context(), p); err != nil {
		respondStoreError(w, r, err)
		return
	}
	if len(body.Config) > 0 {
		if err := s.store.PutProviderConfig(r.Context(), p.ID, body.Config); err != nil {
			respondStoreError(w, r, err)
			return
		}
	}

	s.invalidateRegistry(r.Context())
	s.publishProviders(r.Context(), "created", p.ID)
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetProvider(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	var body providerBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name != "" {
		existing.Name = body.Name
	}
	if body.Type != "" {
		if !providers.KnownType(body.Type) {
			validationError(w, r, "type", "type is not a recognised provider type")
			return
		}
		existing.Type = body.Type
	}
	if body.Enabled != nil {
		existing.Enabled = *body.Enabled
	}
	if body.Priority != nil {
		existing.Priority = *body.Priority
	}
	if body.Description != "" {
		existing.Description = body.Description
	}

	if err := s.store.UpdateProvider(r.Context(), existing); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishProviders(r.Context(), "updated", id)
	respondJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteProvider(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishProviders(r.Context(), "deleted", id)
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

func (s *Server) handleSetProviderEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.store.SetProviderEnabled(r.Context(), id, enabled); err != nil {
			respondStoreError(w, r, err)
			return
		}

		s.invalidateRegistry(r.Context())
		action := "disabled"
		if enabled {
			action = "enabled"
		}
		s.publishProviders(r.Context(), action, id)

		p, err := s.store.GetProvider(r.Context(), id)
		if err != nil {
			respondStoreError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, p)
	}
}

// handleTestProvider instantiates the provider and probes its upstream.
func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	respondJSON(w, http.StatusOK, p.Test(ctx))
}

// handleReloadProvider forces the next use to rebuild from current rows.
func (s *Server) handleReloadProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetProvider(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{"reloaded": id})
}

func (s *Server) handleGetProviderConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetProvider(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	cfg, err := s.store.GetProviderConfig(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	// Sensitive values are masked unless the caller explicitly opts out.
	if r.URL.Query().Get("mask") != "false" {
		for key, cv := range cfg {
			if cv.Sensitive {
				cv.Value = maskedValue
				cfg[key] = cv
			}
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"providerId": id, "config": cfg})
}

func (s *Server) handlePutProviderConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetProvider(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	var cfg map[string]store.ConfigValue
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.store.PutProviderConfig(r.Context(), id, cfg); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishProviders(r.Context(), "config_updated", id)
	respondJSON(w, http.StatusOK, map[string]interface{}{"providerId": id, "keys": len(cfg)})
}

func (s *Server) handlePatchProviderConfigKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	if _, err := s.store.GetProvider(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	var cv store.ConfigValue
	if !decodeBody(w, r, &cv) {
		return
	}
	if cv.Value == maskedValue {
		validationError(w, r, "value", "refusing to store the mask placeholder as a value")
		return
	}
	if err := s.store.SetProviderConfigKey(r.Context(), id, key, cv); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishProviders(r.Context(), "config_updated", id)
	respondJSON(w, http.StatusOK, map[string]interface{}{"providerId": id, "key": key})
}

func (s *Server) handleDeleteProviderConfigKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	if err := s.store.DeleteProviderConfigKey(r.Context(), id, key); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishProviders(r.Context(), "config_updated", id)
	respondJSON(w, http.StatusOK, map[string]interface{}{"providerId": id, "deleted": key})
}
