package openai

// ChatCompletionRequest represents an OpenAI-compatible chat completion request.
// This matches the OpenAI Chat Completions API format so existing OpenAI SDKs
// and tools can talk to the gateway without modification.
type ChatCompletionRequest struct {
	// Model is the ID of the model to use (e.g., "qwen-max", "gpt-4").
	Model string `json:"model"`

	// Messages is the conversation history as a list of messages.
	Messages []Message `json:"messages"`

	// Temperature controls randomness in the response (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// N is the number of completions to generate. Only 1 is supported.
	N *int `json:"n,omitempty"`

	// Stream enables server-sent events (SSE) streaming.
	Stream bool `json:"stream,omitempty"`

	// Stop is a list of sequences where generation halts (max 4).
	Stop []string `json:"stop,omitempty"`

	// PresencePenalty penalizes tokens already present in the text (-2.0 to 2.0).
	PresencePenalty *float64 `json:"presence_penalty,omitempty"`

	// FrequencyPenalty penalizes tokens by frequency in the text (-2.0 to 2.0).
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	// User is an optional end-user identifier.
	User string `json:"user,omitempty"`

	// Tools is a list of tool definitions the model can call.
	// Function entries are normalised before dispatch; non-function entries
	// pass through untouched.
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice controls which tool the model should use.
	// Can be "none", "auto", or {"type":"function","function":{"name":...}}.
	ToolChoice interface{} `json:"tool_choice,omitempty"`

	// ResponseFormat specifies the output format, e.g. {"type":"json_object"}.
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the author of the message ("system", "user", "assistant", "tool").
	Role string `json:"role"`

	// Content is the text content. It can be a string or an array of content
	// parts for multimodal payloads; TextContent flattens either form.
	Content interface{} `json:"content"`

	// Name is the optional author name.
	Name string `json:"name,omitempty"`

	// ToolCalls is a list of tool calls made by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID references the tool call this message responds to (tool role).
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Tool represents a tool definition in a request. Function is kept as a loose
// map so unknown vendor fields survive the round trip through normalisation.
type Tool struct {
	// Type is "function" for function calling; other values pass through as-is.
	Type string `json:"type"`

	// Function describes the function when Type is "function".
	Function map[string]interface{} `json:"function,omitempty"`
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	// ID is a unique identifier for the tool call.
	ID string `json:"id"`

	// Type is always "function".
	Type string `json:"type"`

	// Function contains the function name and arguments.
	Function FunctionCall `json:"function"`
}

// FunctionCall is the function name plus a JSON string of arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseFormat specifies the format of the model's output.
type ResponseFormat struct {
	// Type is the format type ("text" or "json_object").
	Type string `json:"type"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// TextContent flattens a message's content into plain text. String content is
// returned verbatim; multimodal arrays are reduced to their text parts joined
// by a single space. Image and unknown parts are skipped.
func (m *Message) TextContent() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []interface{}:
		var out string
		for _, part := range c {
			pm, ok := part.(map[string]interface{})
			if !ok {
				continue
			}
			if pm["type"] != "text" {
				continue
			}
			text, ok := pm["text"].(string)
			if !ok {
				continue
			}
			if out != "" {
				out += " "
			}
			out += text
		}
		return out
	default:
		return ""
	}
}

// FirstUserMessage returns the text of the first user-role message, or the
// empty string when none is present. Conversation identity is derived from it.
func (r *ChatCompletionRequest) FirstUserMessage() string {
	for i := range r.Messages {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].TextContent()
		}
	}
	return ""
}

// LatestMessage returns the last message in the history, or nil when empty.
func (r *ChatCompletionRequest) LatestMessage() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}

// Validate checks that required fields are present and values are within
// acceptable ranges. It returns a ValidationError describing the first
// offending field.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Field: "model", Message: "model is required"}
	}

	if len(r.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "messages must contain at least one message"}
	}

	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return &ValidationError{Field: "temperature", Message: "temperature must be between 0.0 and 2.0"}
	}

	if r.TopP != nil && (*r.TopP < 0.0 || *r.TopP > 1.0) {
		return &ValidationError{Field: "top_p", Message: "top_p must be between 0.0 and 1.0"}
	}

	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return &ValidationError{Field: "max_tokens", Message: "max_tokens must be greater than 0"}
	}

	if r.N != nil && *r.N != 1 {
		return &ValidationError{Field: "n", Message: "only n=1 is supported"}
	}

	if len(r.Stop) > 4 {
		return &ValidationError{Field: "stop", Message: "stop sequences must not exceed 4"}
	}

	if r.PresencePenalty != nil && (*r.PresencePenalty < -2.0 || *r.PresencePenalty > 2.0) {
		return &ValidationError{Field: "presence_penalty", Message: "presence_penalty must be between -2.0 and 2.0"}
	}

	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2.0 || *r.FrequencyPenalty > 2.0) {
		return &ValidationError{Field: "frequency_penalty", Message: "frequency_penalty must be between -2.0 and 2.0"}
	}

	for i := range r.Messages {
		msg := &r.Messages[i]
		if msg.Role == "" {
			return &ValidationError{Field: "messages.role", Message: "message role is required"}
		}
		if msg.Content == nil && len(msg.ToolCalls) == 0 {
			return &ValidationError{Field: "messages.content", Message: "message content is required when no tool_calls present"}
		}
	}

	return nil
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}
