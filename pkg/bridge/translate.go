package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
)

// wireID allocates the chat-completion id shared by every chunk of a turn.
func wireID() string {
	return "chatcmpl-" + uuid.NewString()[:8]
}

// translateChunk maps one upstream frame to the OpenAI chunk shape. Frames
// with nothing to relay (the response.created announcement) return nil.
func translateChunk(u *upstreamChunk, id, model string, created int64) *openai.ChatCompletionChunk {
	if len(u.Choices) == 0 {
		return nil
	}

	out := &openai.ChatCompletionChunk{
		ID:      id,
		Object:  openai.ObjectChatCompletionChunk,
		Created: created,
		Model:   model,
	}
	for i := range u.Choices {
		delta := &u.Choices[i].Delta
		choice := openai.StreamChoice{
			Index: i,
			Delta: openai.Delta{Role: delta.Role, Content: delta.Content},
		}
		if delta.Status == "finished" {
			reason := openai.FinishReasonStop
			choice.FinishReason = &reason
		}
		out.Choices = append(out.Choices, choice)
	}
	if u.Usage != nil {
		out.Usage = &openai.Usage{
			PromptTokens:     u.Usage.InputTokens,
			CompletionTokens: u.Usage.OutputTokens,
			TotalTokens:      u.Usage.TotalTokens,
		}
	}
	return out
}

// accumulated is the folded result of a finished upstream stream.
type accumulated struct {
	ResponseID string
	Content    string
	Usage      *openai.Usage
	Terminal   bool
}

// toResponse builds the unary completion body from an accumulated stream.
func (a *accumulated) toResponse(id, model string) *openai.ChatCompletionResponse {
	finish := openai.FinishReasonStop
	if !a.Terminal {
		finish = openai.FinishReasonError
	}
	resp := &openai.ChatCompletionResponse{
		ID:      id,
		Object:  openai.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.Choice{{
			Message:      openai.ResponseMessage{Role: openai.RoleAssistant, Content: a.Content},
			FinishReason: finish,
		}},
	}
	if a.Usage != nil {
		resp.Usage = *a.Usage
	}
	return resp
}
