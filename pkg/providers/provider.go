package providers

import (
	"context"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
)

// Provider is the uniform capability set every backend adapter implements.
// Adapters transform OpenAI-shaped requests into whatever the upstream wants
// and normalise errors into the typed errors in this package.
//
// All methods accept a context.Context for cancellation and deadlines and
// must return promptly when the context is cancelled.
type Provider interface {
	// ChatCompletion sends a unary chat completion and returns the full
	// response once the upstream has finished generating.
	ChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)

	// StreamChatCompletion opens a streaming completion. It returns a channel
	// of chunks that the caller must drain until it closes. A mid-stream
	// failure is delivered as the Err field of the final element.
	StreamChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan StreamChunk, error)

	// ListModels returns the model descriptors the upstream advertises.
	ListModels(ctx context.Context) ([]openai.Model, error)

	// Test probes the upstream and reports reachability plus latency.
	Test(ctx context.Context) *TestResult

	// ID returns the provider's configured identifier (slug).
	ID() string

	// Type returns the provider type that selected this adapter.
	Type() string

	// Close releases the adapter's resources. The provider must not be used
	// after Close returns.
	Close() error
}

// StreamChunk is one element of a streaming completion. Exactly one of Chunk
// and Err is set; Err terminates the stream.
type StreamChunk struct {
	Chunk *openai.ChatCompletionChunk
	Err   error
}

// TestResult is the outcome of a provider connectivity test.
type TestResult struct {
	// OK reports whether the upstream answered successfully.
	OK bool `json:"ok"`

	// LatencyMs is the round-trip time of the probe in milliseconds.
	LatencyMs int64 `json:"latencyMs"`

	// Message is a human-readable summary (error text on failure).
	Message string `json:"message"`
}

// Recognised provider types.
const (
	TypeLocalOpenAI  = "local-openai-compatible"
	TypeHostedOpenAI = "hosted-openai-compatible"
	TypeWebChat      = "web-chat-bridge"
)

// KnownType reports whether t is a recognised provider type.
func KnownType(t string) bool {
	switch t {
	case TypeLocalOpenAI, TypeHostedOpenAI, TypeWebChat:
		return true
	}
	return false
}

// RequiredConfigKeys returns the config keys a provider type must carry
// before it can be instantiated.
func RequiredConfigKeys(t string) []string {
	switch t {
	case TypeLocalOpenAI, TypeHostedOpenAI, TypeWebChat:
		return []string{"baseURL"}
	}
	return nil
}
