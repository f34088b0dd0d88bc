package openai

// ErrorResponse is the error envelope returned by every endpoint. It follows
// the OpenAI error shape extended with a server-assigned request ID so the UI
// can correlate failures with server logs.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`

	// RequestID is the server-assigned request identifier, also echoed in
	// the X-Request-Id response header.
	RequestID string `json:"requestId,omitempty"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error. One of the ErrorType* constants.
	Type string `json:"type"`

	// Param is the name of the parameter that caused the error, if any.
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// Provider identifies the upstream provider for provider errors.
	Provider string `json:"provider,omitempty"`

	// Status is the upstream HTTP status for provider errors.
	Status int `json:"status,omitempty"`

	// Errors lists per-field problems for validation failures.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError describes a single invalid field in a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "validation_error"

	// ErrorTypeAuthentication indicates missing or expired credentials (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypeNotFound indicates a resource was not found (404).
	ErrorTypeNotFound = "not_found_error"

	// ErrorTypeProvider indicates the upstream provider returned an error (502).
	ErrorTypeProvider = "provider_error"

	// ErrorTypeConnection indicates the upstream was unreachable (503).
	ErrorTypeConnection = "connection_error"

	// ErrorTypeTimeout indicates the request deadline was exceeded (504).
	ErrorTypeTimeout = "timeout_error"

	// ErrorTypeInternal indicates an unhandled server error (500).
	ErrorTypeInternal = "internal_error"
)

// Error code constants for common scenarios.
const (
	CodeInvalidJSON          = "invalid_json"
	CodeMissingField         = "missing_field"
	CodeInvalidValue         = "invalid_value"
	CodeModelNotFound        = "model_not_found"
	CodeNoProviderForModel   = "no_provider_for_model"
	CodeProviderUnavailable  = "provider_unavailable"
	CodeCredentialsMissing   = "credentials_missing"
	CodeCredentialsExpired   = "credentials_expired"
	CodeClientClosed         = "client_closed"
	CodeInternalError        = "internal_error"
)

// NewErrorResponse creates a new error envelope.
func NewErrorResponse(message, errorType, param, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	}
}

// NewInvalidRequestError creates an envelope for invalid requests (400).
func NewInvalidRequestError(message, param, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, param, code)
}

// NewAuthenticationError creates an envelope for credential failures (401).
func NewAuthenticationError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeAuthentication, "", code)
}

// NewNotFoundError creates an envelope for missing resources (404).
func NewNotFoundError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeNotFound, "", "")
}

// NewProviderError creates an envelope for upstream provider errors (502).
func NewProviderError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeProvider, "", "")
}

// NewConnectionError creates an envelope for upstream connection failures (503).
func NewConnectionError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeConnection, "", code)
}

// NewTimeoutError creates an envelope for deadline exceeded (504).
func NewTimeoutError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeTimeout, "", "")
}

// NewInternalError creates an envelope for unhandled errors (500). The
// message is intentionally opaque; full detail belongs in the server log.
func NewInternalError() *ErrorResponse {
	return NewErrorResponse("An internal error occurred. Please try again later.",
		ErrorTypeInternal, "", CodeInternalError)
}

// HTTPStatusCode returns the HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return 400
	case ErrorTypeAuthentication:
		return 401
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeProvider:
		// The upstream responded; pick the gateway-side status by what it
		// said, defaulting to bad gateway.
		switch e.Status {
		case 503:
			return 503
		case 504:
			return 504
		default:
			return 502
		}
	case ErrorTypeConnection:
		return 503
	case ErrorTypeTimeout:
		return 504
	default:
		return 500
	}
}
