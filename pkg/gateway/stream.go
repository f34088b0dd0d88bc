package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// streamAccumulator folds relayed chunks into the response record that is
// persisted when the stream ends.
type streamAccumulator struct {
	id           string
	content      strings.Builder
	finishReason string
	usage        *openai.Usage
	chunkCount   int
	rawChunks    []json.RawMessage
	storeChunks  bool
}

func (a *streamAccumulator) add(chunk *openai.ChatCompletionChunk, raw []byte) {
	a.chunkCount++
	if a.id == "" {
		a.id = chunk.ID
	}
	for i := range chunk.Choices {
		choice := &chunk.Choices[i]
		a.content.WriteString(choice.Delta.Content)
		if choice.FinishReason != nil {
			a.finishReason = *choice.FinishReason
		}
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	if a.storeChunks {
		a.rawChunks = append(a.rawChunks, json.RawMessage(append([]byte(nil), raw...)))
	}
}

// streamCompletion relays SSE frames from the upstream to the client,
// accumulating the response for persistence. The response record is written
// exactly once, whatever way the stream ends.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, provider providers.Provider, req *openai.ChatCompletionRequest, rec *store.RequestRecord, sess *store.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	start := time.Now()

	// Cancellable upstream context so a client disconnect can abort the
	// upstream call immediately.
	upstreamCtx, cancelUpstream := context.WithCancel(r.Context())
	defer cancelUpstream()

	ch, err := provider.StreamChatCompletion(upstreamCtx, req)
	if err != nil {
		s.recordProviderError(provider.ID(), err)
		s.persistFailure(context.WithoutCancel(r.Context()), rec, err, time.Since(start))
		s.observe(rec.Path, envelopeFor(err).Error.HTTPStatusCode(), true, time.Since(start))
		writeError(w, r, err)
		return
	}

	// Headers commit the response; errors after this point travel as SSE
	// frames, not status codes.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The request row is written up front so an interrupted stream still
	// appears in the activity log.
	persistCtx := context.WithoutCancel(r.Context())
	if err := s.store.InsertRequest(persistCtx, rec); err != nil {
		s.logger.Error("failed to persist stream request", "error", err, "request_id", rec.RequestID)
	}

	s.metrics.StreamStarted()
	defer s.metrics.StreamEnded()

	acc := &streamAccumulator{storeChunks: s.storeStreamChunks(r.Context())}
	var streamErr error
	clientGone := false

relay:
	for {
		select {
		case <-r.Context().Done():
			clientGone = true
			cancelUpstream()
			// Drain so the adapter goroutine can exit.
			for range ch {
			}
			break relay

		case sc, ok := <-ch:
			if !ok {
				break relay
			}
			if sc.Err != nil {
				streamErr = sc.Err
				break relay
			}

			data, err := json.Marshal(sc.Chunk)
			if err != nil {
				streamErr = fmt.Errorf("marshal chunk: %w", err)
				break relay
			}
			acc.add(sc.Chunk, data)

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				clientGone = true
				cancelUpstream()
				for range ch {
				}
				break relay
			}
			flusher.Flush()
		}
	}

	duration := time.Since(start)

	switch {
	case clientGone:
		s.logger.Info("client disconnected mid-stream",
			"request_id", rec.RequestID, "chunks", acc.chunkCount)
		s.persistStreamResponse(persistCtx, rec, acc, openai.FinishReasonError, openai.CodeClientClosed, duration)
		s.metrics.RecordProviderCall(provider.ID(), "error")
		s.observe(rec.Path, http.StatusOK, true, duration)

	case streamErr != nil:
		s.recordProviderError(provider.ID(), streamErr)
		s.writeStreamError(w, flusher, r, streamErr)
		s.persistStreamResponse(persistCtx, rec, acc, openai.FinishReasonError, streamErr.Error(), duration)
		s.observe(rec.Path, http.StatusOK, true, duration)

	default:
		finish := acc.finishReason
		if finish == "" {
			// Upstream closed without a terminal chunk.
			finish = openai.FinishReasonError
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()

		errText := ""
		if finish == openai.FinishReasonError {
			errText = "stream ended without a terminal chunk"
		}
		s.persistStreamResponse(persistCtx, rec, acc, finish, errText, duration)
		s.metrics.RecordProviderCall(provider.ID(), "ok")
		if acc.usage != nil {
			s.metrics.RecordTokens(req.Model, acc.usage.PromptTokens, acc.usage.CompletionTokens)
		}
		if finish != openai.FinishReasonError {
			s.completeSession(persistCtx, sess)
		}
		s.observe(rec.Path, http.StatusOK, true, duration)
	}
}

// writeStreamError delivers a mid-stream failure as a final SSE frame. The
// status line is long gone, so the envelope rides in-band before [DONE].
func (s *Server) writeStreamError(w http.ResponseWriter, flusher http.Flusher, r *http.Request, err error) {
	resp := envelopeFor(err)
	data, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// persistStreamResponse writes the single response row for a stream.
func (s *Server) persistStreamResponse(ctx context.Context, rec *store.RequestRecord, acc *streamAccumulator, finishReason, errText string, duration time.Duration) {
	respRec := &store.ResponseRecord{
		ResponseID:   responseID(acc.id),
		RequestID:    rec.RequestID,
		SessionID:    rec.SessionID,
		Timestamp:    time.Now().UnixMilli(),
		FinishReason: finishReason,
		Error:        errText,
		DurationMS:   int64Ptr(duration.Milliseconds()),
	}

	full := openai.ChatCompletionResponse{
		ID:      acc.id,
		Object:  openai.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   rec.Model,
		Choices: []openai.Choice{{
			Message:      openai.ResponseMessage{Role: openai.RoleAssistant, Content: acc.content.String()},
			FinishReason: finishReason,
		}},
	}
	if acc.usage != nil {
		full.Usage = *acc.usage
		respRec.PromptTokens = intPtr(acc.usage.PromptTokens)
		respRec.CompletionTokens = intPtr(acc.usage.CompletionTokens)
		respRec.TotalTokens = intPtr(acc.usage.TotalTokens)
	}
	if body, err := json.Marshal(&full); err == nil {
		respRec.OpenAIResponse = string(body)
	}
	if acc.storeChunks && len(acc.rawChunks) > 0 {
		if body, err := json.Marshal(acc.rawChunks); err == nil {
			respRec.ProviderResponse = string(body)
		}
	}

	if err := s.store.InsertResponse(ctx, respRec); err != nil {
		s.logger.Error("failed to persist stream response", "error", err, "request_id", rec.RequestID)
	}
}

// storeStreamChunks reads the persistence.storeStreamChunks setting. The
// YAML config supplies the fallback for databases where the setting row is
// absent.
func (s *Server) storeStreamChunks(ctx context.Context) bool {
	fallback := "false"
	if s.cfg.Persistence.StoreStreamChunks {
		fallback = "true"
	}
	return s.store.SettingValue(ctx, "persistence.storeStreamChunks", fallback) == "true"
}
