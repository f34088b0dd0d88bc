package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/httpmw"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// envelopeFor maps any error from the pipeline to the wire envelope. The
// mapping is the single place the error taxonomy turns into HTTP statuses.
func envelopeFor(err error) *openai.ErrorResponse {
	var validationErr *openai.ValidationError
	if errors.As(err, &validationErr) {
		resp := openai.NewInvalidRequestError(validationErr.Message, validationErr.Field, openai.CodeInvalidValue)
		resp.Error.Errors = []openai.FieldError{{Field: validationErr.Field, Message: validationErr.Message}}
		return resp
	}

	var configErr *providers.ConfigError
	if errors.As(err, &configErr) {
		return openai.NewInvalidRequestError(configErr.Error(), configErr.Field, openai.CodeInvalidValue)
	}

	var noProvider *providers.NoProviderError
	if errors.As(err, &noProvider) {
		resp := openai.NewNotFoundError(noProvider.Error())
		resp.Error.Code = openai.CodeNoProviderForModel
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

	if errors.Is(err, store.ErrNotFound) {
		return openai.NewNotFoundError("resource not found")
	}

	return openai.NewInternalError()
}

// writeError sends the envelope for err with the request id attached.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := envelopeFor(err)
	resp.RequestID = httpmw.RequestID(r.Context())

	status := resp.Error.HTTPStatusCode()
	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed",
			"error", err,
			"status", status,
			"request_id", resp.RequestID,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
