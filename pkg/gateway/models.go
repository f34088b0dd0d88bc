package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// handleListModels serves GET /v1/models from the model catalog.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels(r.Context(), "", "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	list := openai.ModelList{
		Object: openai.ObjectList,
		Data:   make([]openai.Model, 0, len(models)),
	}
	for _, m := range models {
		list.Data = append(list.Data, toWireModel(m))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&list)
}

// handleGetModel serves GET /v1/models/{id}.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetModel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	wire := toWireModel(m)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&wire)
}

func toWireModel(m *store.Model) openai.Model {
	wire := openai.Model{
		ID:      m.ID,
		Object:  openai.ObjectModel,
		OwnedBy: "qwen-proxy",
	}
	if m.Name != "" || len(m.Capabilities) > 0 {
		wire.Metadata = map[string]interface{}{}
		if m.Name != "" {
			wire.Metadata["name"] = m.Name
		}
		if len(m.Capabilities) > 0 {
			wire.Metadata["capabilities"] = m.Capabilities
		}
	}
	return wire
}
