package controlplane

import (
	"context"
	"net/http"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/events"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// modelBody is the create/update request shape.
type modelBody struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// linkBody is the body of POST /api/models/{id}/link.
type linkBody struct {
	ProviderID string `json:"providerId"`
	IsDefault  bool   `json:"isDefault"`
}

// publishModels broadcasts a models:updated event reflecting the
// post-commit state.
func (s *Server) publishModels(ctx context.Context, action, modelID string) {
	items, err := s.store.ListModels(ctx, "", "")
	if err != nil {
		s.logger.Error("failed to load models for event", "error", err)
		return
	}
	s.hub.Publish(events.TypeModelsUpdated, map[string]interface{}{
		"action":  action,
		"modelId": modelID,
		"items":   items,
		"total":   len(items),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListModels(r.Context(),
		r.URL.Query().Get("capability"), r.URL.Query().Get("provider"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": items, "total": len(items)})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetModel(r.Context(), r.PathValue("id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	// Include the linked providers so the UI renders routing in one call.
	linked, err := s.store.ProvidersForModel(r.Context(), m.ID)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"model": m, "providers": linked})
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var body modelBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" {
		validationError(w, r, "id", "id is required")
		return
	}
	if body.Name == "" {
		body.Name = body.ID
	}

	m := &store.Model{
		ID:           body.ID,
		Name:         body.Name,
		Description:  body.Description,
		Capabilities: body.Capabilities,
	}
	if err := s.store.CreateModel(r.Context(), m); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.publishModels(r.Context(), "created", m.ID)
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetModel(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	var body modelBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name != "" {
		existing.Name = body.Name
	}
	if body.Description != "" {
		existing.Description = body.Description
	}
	if body.Capabilities != nil {
		existing.Capabilities = body.Capabilities
	}

	if err := s.store.UpdateModel(r.Context(), existing); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.publishModels(r.Context(), "updated", id)
	respondJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteModel(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.publishModels(r.Context(), "deleted", id)
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

func (s *Server) handleLinkModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	var body linkBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ProviderID == "" {
		validationError(w, r, "providerId", "providerId is required")
		return
	}
	if _, err := s.store.GetModel(r.Context(), modelID); err != nil {
		respondStoreError(w, r, err)
		return
	}
	if _, err := s.store.GetProvider(r.Context(), body.ProviderID); err != nil {
		respondStoreError(w, r, err)
		return
	}

	link := &store.ProviderModel{ProviderID: body.ProviderID, ModelID: modelID, IsDefault: body.IsDefault}
	if err := s.store.LinkModel(r.Context(), link); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishModels(r.Context(), "linked", modelID)
	respondJSON(w, http.StatusCreated, link)
}

func (s *Server) handleUnlinkModel(w http.ResponseWriter, r *http.Request) {
	modelID, providerID := r.PathValue("id"), r.PathValue("providerId")
	if err := s.store.UnlinkModel(r.Context(), providerID, modelID); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.invalidateRegistry(r.Context())
	s.publishModels(r.Context(), "unlinked", modelID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"modelId": modelID, "providerId": providerID})
}
