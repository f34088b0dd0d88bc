// Package webchat is the provider adapter for the web-chat bridge sibling
// process. The bridge exposes the same OpenAI subset the gateway does, so
// the wire format matches openaicompat; what differs is error handling. The
// bridge signals credential problems with the standard error envelope, and
// this adapter surfaces those as typed auth errors so the gateway can tell
// the operator to log in again rather than reporting a generic upstream
// failure.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers/openaicompat"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// Client is an adapter for the web-chat bridge.
type Client struct {
	id    string
	inner *openaicompat.Client
}

// Config configures a bridge adapter.
type Config struct {
	// ID is the provider slug.
	ID string

	// BaseURL is the bridge's listen address, e.g. "http://127.0.0.1:3001/v1".
	BaseURL string

	// Timeout bounds each request. Zero leaves deadlines to the context.
	Timeout time.Duration
}

// New creates a bridge adapter.
func New(cfg Config) *Client {
	return &Client{
		id: cfg.ID,
		inner: openaicompat.New(openaicompat.Config{
			ID:      cfg.ID,
			Type:    providers.TypeWebChat,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}),
	}
}

// Factory builds bridge adapters from provider rows.
func Factory(row *store.Provider, config map[string]store.ConfigValue) (providers.Provider, error) {
	return New(Config{
		ID:      row.ID,
		BaseURL: config["baseURL"].Value,
	}), nil
}

// ID implements providers.Provider.
func (c *Client) ID() string { return c.id }

// Type implements providers.Provider.
func (c *Client) Type() string { return providers.TypeWebChat }

// Close implements providers.Provider.
func (c *Client) Close() error { return c.inner.Close() }

// ChatCompletion forwards a unary completion to the bridge.
func (c *Client) ChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	resp, err := c.inner.ChatCompletion(ctx, req)
	if err != nil {
		return nil, c.refineError(err)
	}
	return resp, nil
}

// StreamChatCompletion forwards a streaming completion to the bridge.
func (c *Client) StreamChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan providers.StreamChunk, error) {
	ch, err := c.inner.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, c.refineError(err)
	}
	return ch, nil
}

// ListModels queries the bridge's model catalog.
func (c *Client) ListModels(ctx context.Context) ([]openai.Model, error) {
	models, err := c.inner.ListModels(ctx)
	if err != nil {
		return nil, c.refineError(err)
	}
	return models, nil
}

// Test probes the bridge.
func (c *Client) Test(ctx context.Context) *providers.TestResult {
	start := time.Now()
	_, err := c.ListModels(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &providers.TestResult{OK: false, LatencyMs: latency, Message: err.Error()}
	}
	return &providers.TestResult{OK: true, LatencyMs: latency, Message: "ok"}
}

// refineError inspects bridge error bodies for the standard envelope and
// upgrades credential failures into auth errors with an actionable hint.
func (c *Client) refineError(err error) error {
	var authErr *providers.AuthError
	if errors.As(err, &authErr) {
		refined := &providers.AuthError{
			Provider: c.id,
			Message:  "web-chat credentials rejected",
			Hint:     "capture fresh credentials from a logged-in browser session",
		}
		if detail := decodeEnvelope(authErr.Message); detail != nil {
			if detail.Message != "" {
				refined.Message = detail.Message
			}
			refined.Expired = detail.Code == openai.CodeCredentialsExpired
		}
		return refined
	}

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		if detail := decodeEnvelope(provErr.Message); detail != nil && detail.Message != "" {
			provErr.Message = detail.Message
		}
	}
	return err
}

// decodeEnvelope tries to parse an error body as the standard envelope.
func decodeEnvelope(body string) *openai.ErrorDetail {
	var resp openai.ErrorResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil
	}
	if resp.Error.Message == "" && resp.Error.Type == "" {
		return nil
	}
	return &resp.Error
}
