package providers

import (
	"fmt"
	"time"
)

// ProviderError means the upstream responded with a non-2xx status.
// The HTTP status family decides how the gateway surfaces it (502/503/504).
type ProviderError struct {
	// Provider is the id of the provider that returned the error.
	Provider string

	// Status is the upstream HTTP status code.
	Status int

	// Message is the upstream error body (possibly truncated).
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ConnectionError means the request never reached the upstream: TCP dial
// failure, DNS failure, connection reset mid-handshake.
type ConnectionError struct {
	// Provider is the id of the unreachable provider.
	Provider string

	// Code is the syscall-level code when known (ECONNREFUSED, ENOTFOUND, ...).
	Code string

	// Cause is the underlying network error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %q unreachable (%s): %v", e.Provider, e.Code, e.Cause)
	}
	return fmt.Sprintf("provider %q unreachable: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// RequestError means the request never left the gateway: marshalling failed
// or the request could not be constructed.
type RequestError struct {
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("provider %q request error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// AuthError means credentials are missing, rejected, or expired.
type AuthError struct {
	// Provider is the id of the provider that rejected authentication.
	Provider string

	// Message is the error message.
	Message string

	// Hint tells the operator what to do about it (e.g. log in again).
	Hint string

	// Expired distinguishes an expired credential from a missing one.
	Expired bool
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed: %s", e.Provider, e.Message)
}

// TimeoutError means the per-request deadline fired before the upstream
// finished.
type TimeoutError struct {
	// Provider is the id of the provider where the timeout occurred.
	Provider string

	// Timeout is the deadline that was exceeded.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %q request timeout after %s", e.Provider, e.Timeout)
}

// ParseError means the upstream answered but the body could not be decoded.
type ParseError struct {
	Provider    string
	RawResponse string
	Cause       error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// StreamError is an error that occurred mid-stream, after headers were
// already relayed to the client.
type StreamError struct {
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %q stream error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %q stream error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// ConfigError means a provider row cannot be instantiated because its stored
// configuration is incomplete or invalid for its type.
type ConfigError struct {
	Provider string
	Field    string
	Message  string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s", e.Provider, e.Field, e.Message)
}

// NoProviderError means routing found no enabled provider able to serve the
// requested model.
type NoProviderError struct {
	Model string
}

// Error implements the error interface.
func (e *NoProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("no provider available for model %q", e.Model)
	}
	return "no provider available"
}
