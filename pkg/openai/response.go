package openai

// ChatCompletionResponse is a full (non-streaming) chat completion response.
type ChatCompletionResponse struct {
	// ID is the response identifier (format: "chatcmpl-<id>").
	ID string `json:"id"`

	// Object is always "chat.completion".
	Object string `json:"object"`

	// Created is the Unix timestamp (seconds) when the response was created.
	Created int64 `json:"created"`

	// Model is the model that produced the response.
	Model string `json:"model"`

	// Choices contains the generated completions. The gateway always
	// requests a single completion.
	Choices []Choice `json:"choices"`

	// Usage contains token accounting for the request.
	Usage Usage `json:"usage"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message inside a completion choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage is the token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is a single SSE frame in a streaming response.
type ChatCompletionChunk struct {
	// ID is the response identifier, shared across all chunks of a stream.
	ID string `json:"id"`

	// Object is always "chat.completion.chunk".
	Object string `json:"object"`

	// Created is the Unix timestamp (seconds) when the chunk was created.
	Created int64 `json:"created"`

	// Model is the model producing the stream.
	Model string `json:"model"`

	// Choices carries the incremental delta.
	Choices []StreamChoice `json:"choices"`

	// Usage is present only on the terminal chunk, when the upstream reports it.
	Usage *Usage `json:"usage,omitempty"`
}

// StreamChoice is a single choice inside a stream chunk.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Delta is the incremental content of a stream chunk.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Object type constants.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectModel               = "model"
	ObjectList                = "list"
)

// Finish reason constants.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonError     = "error"
)

// ModelList is the response body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model is a single model descriptor.
type Model struct {
	ID       string                 `json:"id"`
	Object   string                 `json:"object"`
	OwnedBy  string                 `json:"owned_by"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
