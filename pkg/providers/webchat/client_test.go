package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
)

func TestChatCompletion_ExpiredCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(openai.NewAuthenticationError(
			"credentials expired, log in again", openai.CodeCredentialsExpired))
	}))
	defer srv.Close()

	c := New(Config{ID: "qwen-web", BaseURL: srv.URL + "/v1"})
	defer c.Close()

	_, err := c.ChatCompletion(context.Background(), &openai.ChatCompletionRequest{
		Model:    "qwen3-max",
		Messages: []openai.Message{{Role: openai.RoleUser, Content: "hi"}},
	})

	var authErr *providers.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %T (%v), want *AuthError", err, err)
	}
	if !authErr.Expired {
		t.Error("Expired not set for credentials_expired")
	}
	if authErr.Message != "credentials expired, log in again" {
		t.Errorf("message = %q", authErr.Message)
	}
	if authErr.Hint == "" {
		t.Error("hint missing")
	}
}

func TestChatCompletion_EnvelopeUnwrappedFromProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(openai.NewProviderError("upstream chat rejected the message"))
	}))
	defer srv.Close()

	c := New(Config{ID: "qwen-web", BaseURL: srv.URL + "/v1"})
	defer c.Close()

	_, err := c.ChatCompletion(context.Background(), &openai.ChatCompletionRequest{
		Model:    "qwen3-max",
		Messages: []openai.Message{{Role: openai.RoleUser, Content: "hi"}},
	})

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("got %T (%v), want *ProviderError", err, err)
	}
	if provErr.Message != "upstream chat rejected the message" {
		t.Errorf("message = %q", provErr.Message)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&openai.ModelList{
			Object: openai.ObjectList,
			Data:   []openai.Model{{ID: "qwen3-max", Object: openai.ObjectModel, OwnedBy: "qwen"}},
		})
	}))
	defer srv.Close()

	c := New(Config{ID: "qwen-web", BaseURL: srv.URL + "/v1"})
	defer c.Close()

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "qwen3-max" {
		t.Errorf("models = %+v", models)
	}
}
