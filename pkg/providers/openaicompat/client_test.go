package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

func chatRequest() *openai.ChatCompletionRequest {
	return &openai.ChatCompletionRequest{
		Model:    "qwen3-8b",
		Messages: []openai.Message{{Role: openai.RoleUser, Content: "hi"}},
	}
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth = %q", got)
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Stream {
			t.Error("unary request had stream=true")
		}

		json.NewEncoder(w).Encode(&openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: openai.ObjectChatCompletion,
			Model:  req.Model,
			Choices: []openai.Choice{{
				Message:      openai.ResponseMessage{Role: openai.RoleAssistant, Content: "hello"},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		})
	}))
	defer srv.Close()

	c := New(Config{ID: "lm", Type: providers.TypeLocalOpenAI, BaseURL: srv.URL + "/v1", APIKey: "sk-test"})
	defer c.Close()

	resp, err := c.ChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletion_NormalisesTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)

		fn := req.Tools[0].Function
		if _, ok := fn["strict"]; ok {
			t.Error("strict reached the upstream")
		}
		if fn["description"] != "Execute probe function" {
			t.Errorf("description = %v", fn["description"])
		}
		json.NewEncoder(w).Encode(&openai.ChatCompletionResponse{})
	}))
	defer srv.Close()

	c := New(Config{ID: "lm", Type: providers.TypeLocalOpenAI, BaseURL: srv.URL})
	defer c.Close()

	req := chatRequest()
	req.Tools = []openai.Tool{{
		Type:     "function",
		Function: map[string]interface{}{"name": "probe", "strict": true},
	}}
	if _, err := c.ChatCompletion(context.Background(), req); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	// Caller's copy must stay untouched.
	if _, ok := req.Tools[0].Function["strict"]; !ok {
		t.Error("normalisation mutated the caller's request")
	}
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request had stream=false")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, content := range []string{"hel", "lo"} {
			chunk := openai.ChatCompletionChunk{
				ID:      "chatcmpl-1",
				Object:  openai.ObjectChatCompletionChunk,
				Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: content}}},
			}
			data, _ := json.Marshal(&chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{ID: "lm", Type: providers.TypeLocalOpenAI, BaseURL: srv.URL})
	defer c.Close()

	ch, err := c.StreamChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}

	var text string
	for sc := range ch {
		if sc.Err != nil {
			t.Fatalf("stream error: %v", sc.Err)
		}
		text += sc.Chunk.Choices[0].Delta.Content
	}
	if text != "hello" {
		t.Errorf("accumulated = %q", text)
	}
}

func TestStreamChatCompletion_MalformedFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not valid json\n\n")
	}))
	defer srv.Close()

	c := New(Config{ID: "lm", Type: providers.TypeLocalOpenAI, BaseURL: srv.URL})
	defer c.Close()

	ch, err := c.StreamChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}

	var last providers.StreamChunk
	for sc := range ch {
		last = sc
	}
	if _, ok := last.Err.(*providers.ParseError); !ok {
		t.Errorf("final element = %+v, want ParseError", last)
	}
}

func TestListModelsAndTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(&openai.ModelList{
			Object: openai.ObjectList,
			Data:   []openai.Model{{ID: "qwen3-8b", Object: openai.ObjectModel}},
		})
	}))
	defer srv.Close()

	c := New(Config{ID: "lm", Type: providers.TypeLocalOpenAI, BaseURL: srv.URL})
	defer c.Close()

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "qwen3-8b" {
		t.Errorf("models = %+v", models)
	}

	result := c.Test(context.Background())
	if !result.OK {
		t.Errorf("Test failed: %s", result.Message)
	}
}

func TestFactoryHonorsOptionalConfig(t *testing.T) {
	var gotModel, gotOrg, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.Header.Get("X-Org")
		gotAuth = r.Header.Get("Authorization")

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		gotModel = req.Model

		json.NewEncoder(w).Encode(&openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: openai.ObjectChatCompletion,
			Model:  req.Model,
			Choices: []openai.Choice{{
				Message:      openai.ResponseMessage{Role: openai.RoleAssistant, Content: "hello"},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer srv.Close()

	p, err := Factory(&store.Provider{ID: "hosted", Type: providers.TypeHostedOpenAI}, map[string]store.ConfigValue{
		"baseURL":       {Value: srv.URL + "/v1"},
		"apiKey":        {Value: "sk-test"},
		"defaultModel":  {Value: "qwen3-8b"},
		"timeout":       {Value: "2500"},
		"headers.X-Org": {Value: "acme"},
	})
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	defer p.Close()

	req := chatRequest()
	req.Model = ""
	if _, err := p.ChatCompletion(context.Background(), req); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if gotModel != "qwen3-8b" {
		t.Errorf("model = %q, want defaultModel qwen3-8b", gotModel)
	}
	if gotOrg != "acme" {
		t.Errorf("X-Org = %q, want acme", gotOrg)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
}

func TestFactoryRejectsBadTimeout(t *testing.T) {
	_, err := Factory(&store.Provider{ID: "lm", Type: providers.TypeLocalOpenAI}, map[string]store.ConfigValue{
		"baseURL": {Value: "http://localhost:1234/v1"},
		"timeout": {Value: "soon"},
	})
	cfgErr, ok := err.(*providers.ConfigError)
	if !ok {
		t.Fatalf("got %T (%v), want *ConfigError", err, err)
	}
	if cfgErr.Field != "timeout" {
		t.Errorf("field = %q, want timeout", cfgErr.Field)
	}
}
