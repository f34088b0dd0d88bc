// Package controlplane serves the operator REST API and the WebSocket push
// channel. It owns the process supervisor: starting the proxy spawns the
// gateway and bridge as children, and every state-changing endpoint
// broadcasts an event after its database commit.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/events"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/httpmw"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/supervisor"
)

// Server is the control plane HTTP server.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	registry   *providers.Registry
	supervisor *supervisor.Supervisor
	hub        *events.Hub
	logger     *slog.Logger

	httpServer *http.Server
}

// NewServer wires the control plane together. The hub's synthetic status
// callback and the supervisor's state observer are both bound here so every
// lifecycle transition reaches subscribers.
func NewServer(cfg *config.Config, st *store.Store, reg *providers.Registry, sup *supervisor.Supervisor) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		registry:   reg,
		supervisor: sup,
		logger:     slog.Default().With("component", "controlplane"),
	}

	s.hub = events.NewHub(func(ctx context.Context) interface{} {
		return s.statusSnapshot(ctx)
	})
	sup.OnStateChange(func(supervisor.State) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.hub.Publish(events.TypeProxyStatus, s.statusSnapshot(ctx))
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub exposes the push channel, mainly for tests.
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// invalidateRegistry bumps the persisted provider cache generation so the
// gateway process rebuilds its adapters too. The row commit has already
// succeeded by the time this runs, so a failure is logged, not surfaced.
func (s *Server) invalidateRegistry(ctx context.Context) {
	if err := s.registry.Invalidate(ctx); err != nil {
		s.logger.Warn("registry invalidation failed", "error", err)
	}
}

// Handler builds the route table with the standard middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/proxy/status", s.handleProxyStatus)
	mux.HandleFunc("POST /api/proxy/start", s.handleProxyStart)
	mux.HandleFunc("POST /api/proxy/stop", s.handleProxyStop)

	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.HandleFunc("POST /api/providers", s.handleCreateProvider)
	mux.HandleFunc("GET /api/providers/{id}", s.handleGetProvider)
	mux.HandleFunc("PUT /api/providers/{id}", s.handleUpdateProvider)
	mux.HandleFunc("DELETE /api/providers/{id}", s.handleDeleteProvider)
	mux.HandleFunc("POST /api/providers/{id}/enable", s.handleSetProviderEnabled(true))
	mux.HandleFunc("POST /api/providers/{id}/disable", s.handleSetProviderEnabled(false))
	mux.HandleFunc("POST /api/providers/{id}/test", s.handleTestProvider)
	mux.HandleFunc("POST /api/providers/{id}/reload", s.handleReloadProvider)
	mux.HandleFunc("GET /api/providers/{id}/config", s.handleGetProviderConfig)
	mux.HandleFunc("PUT /api/providers/{id}/config", s.handlePutProviderConfig)
	mux.HandleFunc("PATCH /api/providers/{id}/config/{key}", s.handlePatchProviderConfigKey)
	mux.HandleFunc("DELETE /api/providers/{id}/config/{key}", s.handleDeleteProviderConfigKey)

	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("POST /api/models", s.handleCreateModel)
	mux.HandleFunc("GET /api/models/{id}", s.handleGetModel)
	mux.HandleFunc("PUT /api/models/{id}", s.handleUpdateModel)
	mux.HandleFunc("DELETE /api/models/{id}", s.handleDeleteModel)
	mux.HandleFunc("POST /api/models/{id}/link", s.handleLinkModel)
	mux.HandleFunc("DELETE /api/models/{id}/link/{providerId}", s.handleUnlinkModel)

	mux.HandleFunc("GET /api/qwen/credentials", s.handleGetCredentials)
	mux.HandleFunc("POST /api/qwen/credentials", s.handleSetCredentials)
	mux.HandleFunc("DELETE /api/qwen/credentials", s.handleDeleteCredentials)

	mux.HandleFunc("GET /api/settings", s.handleListSettings)
	mux.HandleFunc("POST /api/settings/bulk", s.handleBulkSettings)
	mux.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{key}", s.handlePutSetting)
	mux.HandleFunc("DELETE /api/settings/{key}", s.handleDeleteSetting)

	mux.HandleFunc("GET /api/activity/recent", s.handleRecentActivity)
	mux.HandleFunc("GET /api/activity/stats", s.handleActivityStats)
	mux.HandleFunc("GET /api/requests", s.handleListRequests)
	mux.HandleFunc("GET /api/responses", s.handleListResponses)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)

	mux.Handle("GET /api/events", s.hub)

	var handler http.Handler = mux
	handler = httpmw.CORSMiddleware(s.cfg.Server.CORSOrigin)(handler)
	handler = httpmw.RecoveryMiddleware(handler)
	handler = httpmw.LoggingMiddleware(handler)
	handler = httpmw.RequestIDMiddleware(handler)
	return handler
}

// ListenAndServe runs the server until ctx is cancelled, then stops the
// children and drains with a grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control plane listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.supervisor.Stop()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "qwen-proxy-api",
		"timestamp": time.Now().UnixMilli(),
	})
}
