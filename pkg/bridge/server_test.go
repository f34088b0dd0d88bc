package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/session"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// fakeUpstream simulates the web-chat service.
type fakeUpstream struct {
	mu         sync.Mutex
	chatsMade  int
	lastParent *string
	lastChatID string
	noTerminal bool
	deltas     []string
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v2/chats/new", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.chatsMade++
		n := f.chatsMade
		f.mu.Unlock()
		fmt.Fprintf(w, `{"success":true,"data":{"id":"chat-%d"}}`, n)
	})

	mux.HandleFunc("POST /v2/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastParent = req.ParentID
		f.lastChatID = req.ChatID
		noTerminal := f.noTerminal
		deltas := f.deltas
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"response.created\":{\"response_id\":\"resp-1\",\"chat_id\":\""+req.ChatID+"\"}}\n\n")
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":%q,\"status\":\"typing\"}}]}\n\n", d)
		}
		if !noTerminal {
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"status\":\"finished\"}}],\"usage\":{\"input_tokens\":4,\"output_tokens\":2,\"total_tokens\":6}}\n\n")
		}
	})

	mux.HandleFunc("GET /v2/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"qwen-max","name":"Qwen Max"}]}`)
	})

	return mux
}

type bridgeFixture struct {
	st       *store.Store
	server   *httptest.Server
	upstream *fakeUpstream
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()

	st, err := store.Open(store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	upstream := &fakeUpstream{deltas: []string{"Hello", " there"}}
	upstreamServer := httptest.NewServer(upstream.handler())
	t.Cleanup(upstreamServer.Close)

	cfg := config.Default()
	cfg.Bridge.UpstreamURL = upstreamServer.URL

	srv := NewServer(cfg, st, session.NewManager(st, nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &bridgeFixture{st: st, server: ts, upstream: upstream}
}

func (f *bridgeFixture) pushCredentials(t *testing.T) {
	t.Helper()
	future := time.Now().Add(time.Hour).Unix()
	if err := f.st.SetCredentials(context.Background(), &store.Credentials{
		Token: "tok", Cookies: "sid=1", ExpiresAt: &future,
	}); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
}

func (f *bridgeFixture) postChat(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/chat/completions: %v", err)
	}
	return resp
}

func TestChatCompletionUnary(t *testing.T) {
	f := newBridgeFixture(t)
	f.pushCredentials(t)

	resp := f.postChat(t, `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := out.Choices[0].Message.Content; got != "Hello there" {
		t.Errorf("content = %q", got)
	}
	if out.Choices[0].FinishReason != openai.FinishReasonStop {
		t.Errorf("finish_reason = %q", out.Choices[0].FinishReason)
	}
	if out.Usage.TotalTokens != 6 {
		t.Errorf("total_tokens = %d", out.Usage.TotalTokens)
	}

	// Chat and parent ids threaded into the session.
	sess, err := f.st.GetSession(context.Background(), session.ID("hi"))
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.ChatID != "chat-1" {
		t.Errorf("chat_id = %q", sess.ChatID)
	}
	if sess.ParentID != "resp-1" {
		t.Errorf("parent_id = %q", sess.ParentID)
	}
}

func TestChatCompletionThreadsParent(t *testing.T) {
	f := newBridgeFixture(t)
	f.pushCredentials(t)

	first := `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`
	resp := f.postChat(t, first)
	resp.Body.Close()

	// Same conversation, one more turn: history still opens with "hi".
	second := `{"model":"qwen-max","messages":[` +
		`{"role":"user","content":"hi"},` +
		`{"role":"assistant","content":"Hello there"},` +
		`{"role":"user","content":"and again"}]}`
	resp = f.postChat(t, second)
	resp.Body.Close()

	f.upstream.mu.Lock()
	defer f.upstream.mu.Unlock()
	if f.upstream.chatsMade != 1 {
		t.Errorf("chatsMade = %d, want 1 (same session reuses the chat)", f.upstream.chatsMade)
	}
	if f.upstream.lastParent == nil || *f.upstream.lastParent != "resp-1" {
		t.Errorf("lastParent = %v, want resp-1", f.upstream.lastParent)
	}
	if f.upstream.lastChatID != "chat-1" {
		t.Errorf("lastChatID = %q", f.upstream.lastChatID)
	}
}

func TestChatCompletionStream(t *testing.T) {
	f := newBridgeFixture(t)
	f.pushCredentials(t)

	resp := f.postChat(t, `{"model":"qwen-max","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var content string
	var finish string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		for _, c := range chunk.Choices {
			content += c.Delta.Content
			if c.FinishReason != nil {
				finish = *c.FinishReason
			}
		}
	}

	if content != "Hello there" {
		t.Errorf("content = %q", content)
	}
	if finish != openai.FinishReasonStop {
		t.Errorf("finish = %q", finish)
	}
	if !sawDone {
		t.Error("missing [DONE]")
	}
}

func TestChatCompletionStreamWithoutTerminal(t *testing.T) {
	f := newBridgeFixture(t)
	f.pushCredentials(t)
	f.upstream.noTerminal = true

	resp := f.postChat(t, `{"model":"qwen-max","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()

	var finish string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.FinishReason != nil {
				finish = *c.FinishReason
			}
		}
	}
	if finish != openai.FinishReasonError {
		t.Errorf("finish = %q, want error", finish)
	}

	// An unfinished turn must not advance the parent chain.
	sess, err := f.st.GetSession(context.Background(), session.ID("hi"))
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.ParentID != "" {
		t.Errorf("parent_id = %q, want empty", sess.ParentID)
	}
}

func TestChatCompletionMissingCredentials(t *testing.T) {
	f := newBridgeFixture(t)

	resp := f.postChat(t, `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	var envelope openai.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Type != openai.ErrorTypeAuthentication {
		t.Errorf("type = %q", envelope.Error.Type)
	}
	if envelope.Error.Code != openai.CodeCredentialsMissing {
		t.Errorf("code = %q", envelope.Error.Code)
	}
}

func TestListModels(t *testing.T) {
	f := newBridgeFixture(t)
	f.pushCredentials(t)

	resp, err := http.Get(f.server.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models: %v", err)
	}
	defer resp.Body.Close()

	var list openai.ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "qwen-max" {
		t.Errorf("models = %+v", list.Data)
	}
}

func TestHealthReportsCredentialState(t *testing.T) {
	f := newBridgeFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["hasCredentials"] != false {
		t.Errorf("hasCredentials = %v", body["hasCredentials"])
	}
}
