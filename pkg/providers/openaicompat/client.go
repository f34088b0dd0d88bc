// Package openaicompat is the provider adapter for upstreams that already
// speak the OpenAI chat completions API: local servers (LM Studio, Ollama,
// vLLM) and hosted endpoints that differ only in auth. The adapter forwards
// requests nearly verbatim, normalises tool definitions, and classifies
// transport failures into the typed errors of the providers package.
package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// Client is an adapter for an OpenAI-compatible upstream.
type Client struct {
	id           string
	providerType string
	defaultModel string
	http         *providers.HTTPClient
}

// Config configures a Client.
type Config struct {
	// ID is the provider slug this adapter serves.
	ID string

	// Type is the provider type (local or hosted OpenAI-compatible).
	Type string

	// BaseURL is the upstream root, e.g. "http://localhost:1234/v1".
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// DefaultModel fills requests that omit a model.
	DefaultModel string

	// Headers are extra HTTP headers sent with every request.
	Headers map[string]string

	// Timeout bounds each request. Zero leaves deadlines to the context.
	Timeout time.Duration
}

// New creates an adapter from an explicit config.
func New(cfg Config) *Client {
	headers := map[string]string{}
	for name, value := range cfg.Headers {
		headers[name] = value
	}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Client{
		id:           cfg.ID,
		providerType: cfg.Type,
		defaultModel: cfg.DefaultModel,
		http: providers.NewHTTPClient(providers.HTTPClientConfig{
			Provider: cfg.ID,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Headers:  headers,
		}),
	}
}

// Factory builds adapters from provider rows. Register it for both the
// local and hosted OpenAI-compatible types. Beyond the required baseURL it
// honours the optional keys: apiKey, defaultModel, timeout (milliseconds),
// and custom headers stored as "headers.<Name>".
func Factory(row *store.Provider, config map[string]store.ConfigValue) (providers.Provider, error) {
	cfg := Config{
		ID:           row.ID,
		Type:         row.Type,
		BaseURL:      config["baseURL"].Value,
		APIKey:       config["apiKey"].Value,
		DefaultModel: config["defaultModel"].Value,
	}
	if v := config["timeout"].Value; v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, &providers.ConfigError{
				Provider: row.ID, Field: "timeout",
				Message: "must be a positive integer of milliseconds",
			}
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	for key, cv := range config {
		if name, ok := strings.CutPrefix(key, "headers."); ok && name != "" {
			if cfg.Headers == nil {
				cfg.Headers = map[string]string{}
			}
			cfg.Headers[name] = cv.Value
		}
	}
	return New(cfg), nil
}

// ID implements providers.Provider.
func (c *Client) ID() string { return c.id }

// Type implements providers.Provider.
func (c *Client) Type() string { return c.providerType }

// Close implements providers.Provider.
func (c *Client) Close() error { return c.http.Close() }

// ChatCompletion sends a unary completion request.
func (c *Client) ChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	upstream := c.upstreamRequest(req)
	upstream.Stream = false

	var resp openai.ChatCompletionResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, "/chat/completions", &upstream, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListModels queries the upstream's model catalog.
func (c *Client) ListModels(ctx context.Context) ([]openai.Model, error) {
	var list openai.ModelList
	if err := c.http.DoJSON(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// Test probes the upstream's model endpoint and reports latency.
func (c *Client) Test(ctx context.Context) *providers.TestResult {
	start := time.Now()
	_, err := c.ListModels(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &providers.TestResult{OK: false, LatencyMs: latency, Message: err.Error()}
	}
	return &providers.TestResult{OK: true, LatencyMs: latency, Message: "ok"}
}

// upstreamRequest copies the request with tools normalised and the default
// model filled in when the caller omitted one.
func (c *Client) upstreamRequest(req *openai.ChatCompletionRequest) openai.ChatCompletionRequest {
	upstream := *req
	if upstream.Model == "" {
		upstream.Model = c.defaultModel
	}
	upstream.Tools = providers.NormalizeTools(req.Tools)
	return upstream
}

// marshalRequest prepares the upstream JSON body for streaming requests.
func (c *Client) marshalRequest(req *openai.ChatCompletionRequest, stream bool) ([]byte, error) {
	upstream := c.upstreamRequest(req)
	upstream.Stream = stream
	body, err := json.Marshal(&upstream)
	if err != nil {
		return nil, &providers.RequestError{Provider: c.id, Message: "failed to marshal request", Cause: err}
	}
	return body, nil
}
