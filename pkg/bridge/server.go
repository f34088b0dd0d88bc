package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/httpmw"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/session"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// maxRequestBody bounds an inbound chat completion body.
const maxRequestBody = 10 << 20

// Server is the bridge HTTP server. It exposes the OpenAI subset the
// gateway's web-chat adapter consumes.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	upstream *upstreamClient
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer wires the bridge together. The caller owns the store and
// session manager lifecycles.
func NewServer(cfg *config.Config, st *store.Store, sessions *session.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		upstream: newUpstreamClient(cfg.Bridge.UpstreamURL, cfg.Server.RequestTimeout),
		logger:   slog.Default().With("component", "bridge"),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Bridge.Port),
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
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	handler = httpmw.RecoveryMiddleware(handler)
	handler = httpmw.LoggingMiddleware(handler)
	handler = httpmw.RequestIDMiddleware(handler)
	return handler
}

// ListenAndServe clears stale sessions and runs the server until ctx is
// cancelled. Sessions are cleared because stored chat and parent ids refer
// to upstream state under the previous credential; reusing them after a
// restart would thread turns into chats the new login cannot see.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cleared, err := s.store.ClearSessions(ctx)
	if err != nil {
		return fmt.Errorf("bridge: clear sessions: %w", err)
	}
	if cleared > 0 {
		s.logger.Info("cleared stale sessions at startup", "count", cleared)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.upstream.Close()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleChatCompletions serves POST /v1/chat/completions: resolve
// credentials and session, create the upstream chat when the session is
// fresh, send the latest turn, and relay the translated stream.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, r, &openai.ValidationError{Field: "body", Message: "failed to read request body"})
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeEnvelope(w, r, openai.NewInvalidRequestError("request body is not valid JSON", "", openai.CodeInvalidJSON))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	creds, err := resolveCredentials(r.Context(), s.store, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	sess, err := s.sessions.Resolve(r.Context(), req.FirstUserMessage())
	if err != nil {
		writeError(w, r, err)
		return
	}

	chatID := sess.ChatID
	if chatID == "" {
		chatID, err = s.upstream.NewChat(r.Context(), creds, req.Model)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// Store the chat id immediately so a failed first turn does not
		// orphan the upstream chat.
		if err := s.sessions.Complete(r.Context(), sess.ID, chatID, ""); err != nil {
			s.logger.Warn("failed to store new chat id", "error", err, "session_id", sess.ID)
		}
		s.logger.Debug("created upstream chat", "session_id", sess.ID, "chat_id", chatID)
	}

	latest := req.LatestMessage()
	send := &sendRequest{
		ChatID:            chatID,
		Messages:          []sendMessage{{Role: latest.Role, Content: latest.TextContent()}},
		Stream:            true,
		IncrementalOutput: true,
		Timestamp:         time.Now().Unix(),
	}
	if sess.ParentID != "" {
		parent := sess.ParentID
		send.ParentID = &parent
	}

	if req.Stream {
		s.streamTurn(w, r, creds, send, sess, chatID, req.Model)
		return
	}
	s.unaryTurn(w, r, creds, send, sess, chatID, req.Model)
}

// unaryTurn drains the upstream stream into a single completion body.
func (s *Server) unaryTurn(w http.ResponseWriter, r *http.Request, creds *Credentials, send *sendRequest, sess *store.Session, chatID, model string) {
	ch, err := s.upstream.Send(r.Context(), creds, send)
	if err != nil {
		writeError(w, r, err)
		return
	}

	acc := &accumulated{}
	for ev := range ch {
		if ev.Err != nil {
			writeError(w, r, ev.Err)
			return
		}
		foldChunk(acc, ev.Chunk)
	}

	if acc.Terminal {
		s.completeTurn(r.Context(), sess, chatID, acc.ResponseID)
	}

	resp := acc.toResponse(wireID(), model)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// streamTurn relays translated chunks as SSE.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, creds *Credentials, send *sendRequest, sess *store.Session, chatID, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	upstreamCtx, cancelUpstream := context.WithCancel(r.Context())
	defer cancelUpstream()

	ch, err := s.upstream.Send(upstreamCtx, creds, send)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id := wireID()
	created := time.Now().Unix()
	acc := &accumulated{}

relay:
	for {
		select {
		case <-r.Context().Done():
			cancelUpstream()
			for range ch {
			}
			s.logger.Info("client disconnected mid-stream", "session_id", sess.ID)
			return

		case ev, ok := <-ch:
			if !ok {
				break relay
			}
			if ev.Err != nil {
				s.writeStreamError(w, flusher, r, ev.Err)
				return
			}

			foldChunk(acc, ev.Chunk)
			chunk := translateChunk(ev.Chunk, id, model, created)
			if chunk == nil {
				continue
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				s.writeStreamError(w, flusher, r, fmt.Errorf("marshal chunk: %w", err))
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				cancelUpstream()
				for range ch {
				}
				return
			}
			flusher.Flush()
		}
	}

	if acc.Terminal {
		s.completeTurn(context.WithoutCancel(r.Context()), sess, chatID, acc.ResponseID)
	} else {
		// Upstream closed without a terminal frame; tell the consumer the
		// turn did not finish cleanly.
		reason := openai.FinishReasonError
		chunk := &openai.ChatCompletionChunk{
			ID:      id,
			Object:  openai.ObjectChatCompletionChunk,
			Created: created,
			Model:   model,
			Choices: []openai.StreamChoice{{FinishReason: &reason}},
		}
		if data, err := json.Marshal(chunk); err == nil {
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// foldChunk accumulates one upstream frame.
func foldChunk(acc *accumulated, chunk *upstreamChunk) {
	if chunk.ResponseCreated != nil {
		acc.ResponseID = chunk.ResponseCreated.ResponseID
	}
	for i := range chunk.Choices {
		acc.Content += chunk.Choices[i].Delta.Content
	}
	if chunk.terminal() {
		acc.Terminal = true
	}
	if chunk.Usage != nil {
		acc.Usage = &openai.Usage{
			PromptTokens:     chunk.Usage.InputTokens,
			CompletionTokens: chunk.Usage.OutputTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
}

// completeTurn records the finished turn; the response id becomes the next
// parent so the upstream threads the conversation.
func (s *Server) completeTurn(ctx context.Context, sess *store.Session, chatID, responseID string) {
	if err := s.sessions.Complete(ctx, sess.ID, chatID, responseID); err != nil {
		s.logger.Error("failed to complete session turn", "error", err, "session_id", sess.ID)
	}
}

// writeStreamError delivers a mid-stream failure as a final SSE frame.
func (s *Server) writeStreamError(w http.ResponseWriter, flusher http.Flusher, r *http.Request, err error) {
	resp := envelopeFor(err)
	resp.RequestID = httpmw.RequestID(r.Context())
	data, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleListModels proxies the upstream model listing.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	creds, err := resolveCredentials(r.Context(), s.store, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	models, err := s.upstream.ListModels(r.Context(), creds)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list := openai.ModelList{Object: openai.ObjectList, Data: make([]openai.Model, 0, len(models.Data))}
	for _, m := range models.Data {
		wire := openai.Model{ID: m.ID, Object: openai.ObjectModel, OwnedBy: upstreamName}
		if m.Name != "" {
			wire.Metadata = map[string]interface{}{"name": m.Name}
		}
		list.Data = append(list.Data, wire)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&list)
}

// handleHealth reports liveness plus whether usable credentials are stored.
// The supervisor polls this during startup sequencing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.CheckVersion(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	hasCreds := false
	if creds, err := s.store.GetCredentials(r.Context()); err == nil {
		hasCreds = creds.Valid(time.Now())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         status,
		"hasCredentials": hasCreds,
		"timestamp":      time.Now().UnixMilli(),
	})
}

// envelopeFor maps bridge pipeline errors to the wire envelope. The bridge
// serves one consumer (the gateway's web-chat adapter), which re-derives
// typed errors from this shape.
func envelopeFor(err error) *openai.ErrorResponse {
	var validationErr *openai.ValidationError
	if errors.As(err, &validationErr) {
		resp := openai.NewInvalidRequestError(validationErr.Message, validationErr.Field, openai.CodeInvalidValue)
		resp.Error.Errors = []openai.FieldError{{Field: validationErr.Field, Message: validationErr.Message}}
		return resp
	}

	var authErr *providers.AuthError
	if errors.As(err, &authErr) {
		code := openai.CodeCredentialsMissing
		if authErr.Expired {
			code = openai.CodeCredentialsExpired
		}
		message := authErr.Message
		if authErr.Hint != "" {
			message += " (" + authErr.Hint + ")"
		}
		return openai.NewAuthenticationError(message, code)
	}

	var timeoutErr *providers.TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return openai.NewTimeoutError("request timeout: the upstream took too long to respond")
	}

	var connErr *providers.ConnectionError
	if errors.As(err, &connErr) {
		return openai.NewConnectionError(connErr.Error(), connErr.Code)
	}

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		resp := openai.NewProviderError(provErr.Error())
		resp.Error.Provider = provErr.Provider
		resp.Error.Status = provErr.Status
		return resp
	}

	var parseErr *providers.ParseError
	if errors.As(err, &parseErr) {
		return openai.NewProviderError("upstream returned an unparseable response")
	}

	return openai.NewInternalError()
}

// writeError sends the envelope for err with the request id attached.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeEnvelope(w, r, envelopeFor(err))
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, resp *openai.ErrorResponse) {
	resp.RequestID = httpmw.RequestID(r.Context())

	status := resp.Error.HTTPStatusCode()
	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed",
			"status", status,
			"request_id", resp.RequestID,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
