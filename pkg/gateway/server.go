// Package gateway is the OpenAI-compatible front end: it validates chat
// completion requests, routes them to a provider adapter, relays unary and
// streaming responses, and persists the request/response audit trail.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/httpmw"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/session"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/telemetry/metrics"
)

// maxRequestBody bounds an inbound chat completion body.
const maxRequestBody = 10 << 20

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	router   *Router
	sessions *session.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer wires the gateway together. The caller owns the store and
// session manager lifecycles.
func NewServer(cfg *config.Config, st *store.Store, reg *providers.Registry, sessions *session.Manager, collector *metrics.Collector) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		router:   NewRouter(st, reg),
		sessions: sessions,
		metrics:  collector,
		logger:   slog.Default().With("component", "gateway"),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table with the standard middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /v1/models/{id}", s.handleGetModel)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = httpmw.TimeoutMiddleware(s.requestTimeout())(handler)
	handler = httpmw.CORSMiddleware(s.cfg.Server.CORSOrigin)(handler)
	handler = httpmw.RecoveryMiddleware(handler)
	handler = httpmw.LoggingMiddleware(handler)
	handler = httpmw.RequestIDMiddleware(handler)
	return handler
}

// requestTimeout reads the runtime timeout setting, falling back to the
// static config. The control plane can change it without a restart.
func (s *Server) requestTimeout() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw := s.store.SettingValue(ctx, "server.timeout", "")
	if raw != "" {
		var ms int64
		if _, err := fmt.Sscanf(raw, "%d", &ms); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return s.cfg.Server.RequestTimeout
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleHealth reports liveness plus a database ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.CheckVersion(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	})
}
