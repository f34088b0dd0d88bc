package controlplane

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/httpmw"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// respondJSON writes a JSON body with the given status.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes the standard error envelope with the request id.
func respondError(w http.ResponseWriter, r *http.Request, resp *openai.ErrorResponse) {
	resp.RequestID = httpmw.RequestID(r.Context())

	status := resp.Error.HTTPStatusCode()
	if status >= 500 {
		slog.ErrorContext(r.Context(), "api request failed",
			"status", status,
			"request_id", resp.RequestID,
		)
	}
	respondJSON(w, status, resp)
}

// respondStoreError maps persistence failures: missing rows become 404,
// everything else an opaque 500.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, openai.NewNotFoundError("resource not found"))
		return
	}
	slog.ErrorContext(r.Context(), "store operation failed", "error", err)
	respondError(w, r, openai.NewInternalError())
}

// validationError writes a 400 for one bad field.
func validationError(w http.ResponseWriter, r *http.Request, field, message string) {
	respondError(w, r, openai.NewInvalidRequestError(message, field, openai.CodeInvalidValue))
}

// decodeBody parses a JSON request body into out. On failure it writes the
// envelope and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(out); err != nil {
		respondError(w, r, openai.NewInvalidRequestError("request body is not valid JSON", "", openai.CodeInvalidJSON))
		return false
	}
	return true
}

// pagination parses and validates limit/offset query parameters.
func pagination(w http.ResponseWriter, r *http.Request, defaultLimit int) (limit, offset int, ok bool) {
	limit = defaultLimit
	offset = 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			validationError(w, r, "limit", "limit must be an integer between 1 and 1000")
			return 0, 0, false
		}
		limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			validationError(w, r, "offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
