package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// maxErrorBody caps how much of an upstream error body is kept for messages.
const maxErrorBody = 2048

// HTTPClient is the base HTTP machinery shared by the provider adapters.
// It owns a pooled transport, applies the per-request deadline, and
// normalises failures into the typed errors of this package.
type HTTPClient struct {
	// provider is the owning provider's id, attached to every error.
	provider string

	// baseURL is the upstream endpoint root without a trailing slash.
	baseURL string

	// headers are sent with every request (Authorization, custom headers).
	headers map[string]string

	client *http.Client
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// Provider is the owning provider's id.
	Provider string

	// BaseURL is the upstream endpoint root.
	BaseURL string

	// Timeout is the per-request deadline. Zero means no client timeout;
	// callers are expected to bound the context instead.
	Timeout time.Duration

	// Headers are added to every request.
	Headers map[string]string

	// MaxIdleConns bounds the connection pool. Zero picks a sane default.
	MaxIdleConns int
}

// NewHTTPClient creates a base client with connection pooling.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 16
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPClient{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		headers:  cfg.Headers,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// BaseURL returns the configured upstream root.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do performs a request against baseURL+path and classifies failures.
// A 2xx response is returned with its body still open; the caller owns it.
// Non-2xx responses are drained, closed, and turned into typed errors.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &RequestError{Provider: c.provider, Message: "failed to build request", Cause: err}
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("sending request to provider",
		"provider", c.provider,
		"method", method,
		"path", path,
	)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(ctx, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{
			Provider: c.provider,
			Message:  string(errorBody),
			Hint:     "check the provider's credentials",
		}
	default:
		return nil, &ProviderError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Message:  string(errorBody),
		}
	}
}

// DoJSON performs a JSON request and decodes the 2xx response into out.
func (c *HTTPClient) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var bodyBytes []byte
	var err error
	if in != nil {
		bodyBytes, err = json.Marshal(in)
		if err != nil {
			return &RequestError{Provider: c.provider, Message: "failed to marshal request", Cause: err}
		}
	}

	resp, err := c.Do(ctx, method, path, bodyBytes)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ParseError{Provider: c.provider, Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	if out != nil && len(responseBytes) > 0 {
		if err := json.Unmarshal(responseBytes, out); err != nil {
			return &ParseError{
				Provider:    c.provider,
				RawResponse: string(responseBytes),
				Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}

	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// classifyTransportError decides whether a client.Do failure is a timeout,
// a cancellation, or a connection failure, and attaches the syscall code
// when one is identifiable.
func (c *HTTPClient) classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: c.provider, Timeout: c.client.Timeout}
	}
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Provider: c.provider, Timeout: c.client.Timeout}
	}

	return &ConnectionError{
		Provider: c.provider,
		Code:     connectionCode(err),
		Cause:    err,
	}
}

// connectionCode maps a network error to the conventional syscall code name.
func connectionCode(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(err, syscall.ENETUNREACH):
		return "ENETUNREACH"
	case errors.Is(err, syscall.EPIPE):
		return "EPIPE"
	}
	return ""
}
