package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/supervisor"
)

// proxyStatus is the dashboard snapshot: supervisor state plus summaries of
// everything the UI renders on the front page.
type proxyStatus struct {
	*supervisor.Status
	Providers   providersSummary   `json:"providers"`
	Models      modelsSummary      `json:"models"`
	Credentials credentialsSummary `json:"credentials"`
}

type providersSummary struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

type modelsSummary struct {
	Total int `json:"total"`
}

type credentialsSummary struct {
	HasCredentials bool `json:"hasCredentials"`
	IsValid        bool `json:"isValid"`
}

// statusSnapshot assembles the full proxy status. Summary lookups are best
// effort; a failing counter degrades to zero rather than failing the status
// read.
func (s *Server) statusSnapshot(ctx context.Context) *proxyStatus {
	out := &proxyStatus{Status: s.supervisor.Status()}

	total, enabled, err := s.store.CountProviders(ctx)
	if err == nil {
		out.Providers = providersSummary{Total: total, Enabled: enabled}
	} else {
		s.logger.Warn("provider summary failed", "error", err)
	}

	if count, err := s.store.CountModels(ctx); err == nil {
		out.Models = modelsSummary{Total: count}
	} else {
		s.logger.Warn("model summary failed", "error", err)
	}

	if creds, err := s.store.GetCredentials(ctx); err == nil {
		out.Credentials = credentialsSummary{
			HasCredentials: true,
			IsValid:        creds.Valid(time.Now()),
		}
	}
	return out
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.statusSnapshot(r.Context()))
}

func (s *Server) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Start(r.Context()); err != nil {
		s.logger.Error("proxy start failed", "error", err)
		respondError(w, r, openai.NewErrorResponse(err.Error(), openai.ErrorTypeInternal, "", ""))
		return
	}
	respondJSON(w, http.StatusOK, s.statusSnapshot(r.Context()))
}

func (s *Server) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	s.supervisor.Stop()
	respondJSON(w, http.StatusOK, s.statusSnapshot(r.Context()))
}
