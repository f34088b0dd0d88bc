package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/httpmw"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// handleChatCompletions is the main entry point: decode, validate, route,
// then dispatch to the unary or streaming path.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp := openai.NewInvalidRequestError("request body is not valid JSON", "", openai.CodeInvalidJSON)
		resp.RequestID = httpmw.RequestID(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	provider, row, err := s.router.Select(r.Context(), req.Model)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sess := s.resolveSession(r.Context(), &req)

	rec := s.buildRequestRecord(r, &req, row, sess)

	if req.Stream {
		s.streamCompletion(w, r, provider, &req, rec, sess)
		return
	}
	s.unaryCompletion(w, r, provider, &req, rec, sess)
}

// resolveSession maps the conversation to a session. Failure to resolve
// never fails the request; the exchange is just persisted unanchored.
func (s *Server) resolveSession(ctx context.Context, req *openai.ChatCompletionRequest) *store.Session {
	first := req.FirstUserMessage()
	if first == "" {
		return nil
	}
	sess, err := s.sessions.Resolve(ctx, first)
	if err != nil {
		s.logger.Warn("session resolve failed", "error", err)
		return nil
	}
	return sess
}

// buildRequestRecord captures the inbound request for the audit trail.
func (s *Server) buildRequestRecord(r *http.Request, req *openai.ChatCompletionRequest, row *store.Provider, sess *store.Session) *store.RequestRecord {
	rec := &store.RequestRecord{
		RequestID: httpmw.RequestID(r.Context()),
		Timestamp: time.Now().UnixMilli(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Model:     req.Model,
		Provider:  row.ID,
		Stream:    req.Stream,
	}
	if sess != nil {
		rec.SessionID = sess.ID
	}
	if body, err := json.Marshal(req); err == nil {
		rec.OpenAIRequest = string(body)
	}
	return rec
}

// unaryCompletion calls the upstream once and persists request and response
// in a single transaction before answering.
func (s *Server) unaryCompletion(w http.ResponseWriter, r *http.Request, provider providers.Provider, req *openai.ChatCompletionRequest, rec *store.RequestRecord, sess *store.Session) {
	start := time.Now()
	resp, err := provider.ChatCompletion(r.Context(), req)
	duration := time.Since(start)

	if err != nil {
		s.recordProviderError(provider.ID(), err)
		s.persistFailure(r.Context(), rec, err, duration)
		s.observe(rec.Path, envelopeFor(err).Error.HTTPStatusCode(), false, duration)
		writeError(w, r, err)
		return
	}

	s.metrics.RecordProviderCall(provider.ID(), "ok")
	s.metrics.RecordTokens(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	respRec := s.buildResponseRecord(rec, resp, duration)
	if err := s.store.RecordExchange(r.Context(), rec, respRec); err != nil {
		// Persistence failing after a successful upstream call is a server
		// fault; the client still paid for the tokens, so answer anyway.
		s.logger.Error("failed to persist exchange", "error", err, "request_id", rec.RequestID)
	}
	s.completeSession(r.Context(), sess)

	s.observe(rec.Path, http.StatusOK, false, duration)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// buildResponseRecord captures a completed unary response.
func (s *Server) buildResponseRecord(rec *store.RequestRecord, resp *openai.ChatCompletionResponse, duration time.Duration) *store.ResponseRecord {
	out := &store.ResponseRecord{
		ResponseID: responseID(resp.ID),
		RequestID:  rec.RequestID,
		SessionID:  rec.SessionID,
		Timestamp:  time.Now().UnixMilli(),
		DurationMS: int64Ptr(duration.Milliseconds()),
	}
	if body, err := json.Marshal(resp); err == nil {
		out.OpenAIResponse = string(body)
	}
	if len(resp.Choices) > 0 {
		out.FinishReason = resp.Choices[0].FinishReason
	}
	if resp.Usage.TotalTokens > 0 {
		out.PromptTokens = intPtr(resp.Usage.PromptTokens)
		out.CompletionTokens = intPtr(resp.Usage.CompletionTokens)
		out.TotalTokens = intPtr(resp.Usage.TotalTokens)
	}
	return out
}

// persistFailure records a failed exchange. Runs on the request path but
// never surfaces its own errors.
func (s *Server) persistFailure(ctx context.Context, rec *store.RequestRecord, cause error, duration time.Duration) {
	respRec := &store.ResponseRecord{
		ResponseID:   responseID(""),
		RequestID:    rec.RequestID,
		SessionID:    rec.SessionID,
		Timestamp:    time.Now().UnixMilli(),
		FinishReason: openai.FinishReasonError,
		Error:        cause.Error(),
		DurationMS:   int64Ptr(duration.Milliseconds()),
	}
	if err := s.store.RecordExchange(ctx, rec, respRec); err != nil {
		s.logger.Error("failed to persist failed exchange", "error", err, "request_id", rec.RequestID)
	}
}

// completeSession bumps the session turn counter after a successful
// exchange.
func (s *Server) completeSession(ctx context.Context, sess *store.Session) {
	if sess == nil {
		return
	}
	if err := s.sessions.Complete(ctx, sess.ID, "", ""); err != nil {
		s.logger.Warn("session completion failed", "session_id", sess.ID, "error", err)
	}
}

// recordProviderError classifies an upstream failure for metrics.
func (s *Server) recordProviderError(provider string, err error) {
	s.metrics.RecordProviderCall(provider, "error")
	s.metrics.RecordProviderError(provider, errorTypeLabel(err))
}

func errorTypeLabel(err error) string {
	var (
		timeoutErr *providers.TimeoutError
		authErr    *providers.AuthError
		connErr    *providers.ConnectionError
		parseErr   *providers.ParseError
		streamErr  *providers.StreamError
		provErr    *providers.ProviderError
	)
	switch {
	case errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &streamErr):
		return "stream"
	case errors.As(err, &provErr):
		return "upstream"
	}
	return "other"
}

// observe records one finished request in the metrics collector.
func (s *Server) observe(path string, status int, stream bool, duration time.Duration) {
	s.metrics.RecordRequest(path, strconv.Itoa(status), stream, duration)
}

func responseID(upstream string) string {
	if upstream != "" {
		return upstream + "-" + uuid.NewString()[:8]
	}
	return "resp-" + uuid.NewString()
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
