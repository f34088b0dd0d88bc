package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
)

const (
	upstreamName = "web-chat"

	// maxUpstreamErrorBody caps how much of an upstream error body is kept.
	maxUpstreamErrorBody = 2048
)

// upstreamClient talks to the web-chat service. Unlike the gateway's
// provider clients it carries no credentials of its own; every call takes
// the freshly resolved Credentials so a push from the UI takes effect on
// the very next turn.
type upstreamClient struct {
	baseURL string
	client  *http.Client
}

func newUpstreamClient(baseURL string, timeout time.Duration) *upstreamClient {
	return &upstreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
			Timeout: timeout,
		},
	}
}

func (c *upstreamClient) Close() {
	c.client.CloseIdleConnections()
}

// newChatRequest is the body of the upstream "new chat" call.
type newChatRequest struct {
	Title     string   `json:"title"`
	Models    []string `json:"models"`
	ChatMode  string   `json:"chat_mode"`
	Timestamp int64    `json:"timestamp"`
}

// newChatResponse is the upstream's wrapper around the created chat.
type newChatResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}

// sendRequest is the body of the upstream "send message" call. ParentID is
// nil on the first turn of a chat.
type sendRequest struct {
	ChatID            string        `json:"chat_id"`
	ParentID          *string       `json:"parent_id"`
	Messages          []sendMessage `json:"messages"`
	Stream            bool          `json:"stream"`
	IncrementalOutput bool          `json:"incremental_output"`
	Timestamp         int64         `json:"timestamp"`
}

// sendMessage carries only the latest turn; the upstream reconstructs the
// history from the parent chain.
type sendMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// upstreamChunk is one SSE frame from the upstream. The first frame of a
// stream announces the response id; content frames carry deltas; the
// terminal frame has Status "finished" and usually usage.
type upstreamChunk struct {
	ResponseCreated *responseCreated `json:"response.created,omitempty"`
	Choices         []upstreamChoice `json:"choices,omitempty"`
	Usage           *upstreamUsage   `json:"usage,omitempty"`
}

type responseCreated struct {
	ResponseID string `json:"response_id"`
	ChatID     string `json:"chat_id"`
}

type upstreamChoice struct {
	Delta upstreamDelta `json:"delta"`
}

type upstreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (ch *upstreamChunk) terminal() bool {
	for i := range ch.Choices {
		if ch.Choices[i].Delta.Status == "finished" {
			return true
		}
	}
	return false
}

type upstreamUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// upstreamModels is the body of the upstream model listing.
type upstreamModels struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// do issues an authenticated request. Non-2xx responses are drained and
// turned into the shared provider error taxonomy so the gateway's error
// mapping applies unchanged.
func (c *upstreamClient) do(ctx context.Context, creds *Credentials, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &providers.RequestError{Provider: upstreamName, Message: "failed to marshal request", Cause: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &providers.RequestError{Provider: upstreamName, Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Cookie", creds.Cookies)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamErrorBody))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &providers.AuthError{
			Provider: upstreamName,
			Message:  "upstream rejected the stored credentials",
			Hint:     "log in to the web chat again and push fresh credentials",
			Expired:  true,
		}
	default:
		return nil, &providers.ProviderError{
			Provider: upstreamName,
			Status:   resp.StatusCode,
			Message:  string(errorBody),
		}
	}
}

// NewChat creates an upstream chat and returns its id.
func (c *upstreamClient) NewChat(ctx context.Context, creds *Credentials, model string) (string, error) {
	body := &newChatRequest{
		Title:     "New Chat",
		Models:    []string{model},
		ChatMode:  "normal",
		Timestamp: time.Now().Unix(),
	}

	resp, err := c.do(ctx, creds, http.MethodPost, "/v2/chats/new", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out newChatResponse
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &providers.ParseError{Provider: upstreamName, Cause: fmt.Errorf("failed to read new-chat response: %w", err)}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &providers.ParseError{Provider: upstreamName, RawResponse: string(data), Cause: err}
	}
	if !out.Success || out.Data.ID == "" {
		return "", &providers.ProviderError{Provider: upstreamName, Message: "new chat was not created: " + string(data)}
	}
	return out.Data.ID, nil
}

// Send posts one turn and returns a channel of upstream chunks. The caller
// must drain the channel; a mid-stream failure arrives as the Err of the
// final element.
func (c *upstreamClient) Send(ctx context.Context, creds *Credentials, req *sendRequest) (<-chan upstreamEvent, error) {
	resp, err := c.do(ctx, creds, http.MethodPost, "/v2/chat/completions?chat_id="+req.ChatID, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan upstreamEvent, 16)
	go c.readStream(resp.Body, ch)
	return ch, nil
}

// upstreamEvent is one element of the upstream stream; exactly one of Chunk
// and Err is set.
type upstreamEvent struct {
	Chunk *upstreamChunk
	Err   error
}

// readStream parses the upstream SSE body into chunks.
func (c *upstreamClient) readStream(body io.ReadCloser, ch chan<- upstreamEvent) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk upstreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			ch <- upstreamEvent{Err: &providers.ParseError{
				Provider:    upstreamName,
				RawResponse: data,
				Cause:       err,
			}}
			return
		}
		ch <- upstreamEvent{Chunk: &chunk}
	}

	if err := scanner.Err(); err != nil {
		ch <- upstreamEvent{Err: &providers.StreamError{
			Provider: upstreamName,
			Message:  "stream read failed",
			Cause:    err,
		}}
	}
}

// ListModels returns the models the upstream advertises.
func (c *upstreamClient) ListModels(ctx context.Context, creds *Credentials) (*upstreamModels, error) {
	resp, err := c.do(ctx, creds, http.MethodGet, "/v2/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out upstreamModels
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providers.ParseError{Provider: upstreamName, Cause: fmt.Errorf("failed to read models response: %w", err)}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &providers.ParseError{Provider: upstreamName, RawResponse: string(data), Cause: err}
	}
	return &out, nil
}

// classify mirrors the gateway provider clients' transport error handling.
func (c *upstreamClient) classify(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &providers.TimeoutError{Provider: upstreamName, Timeout: c.client.Timeout}
	}
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &providers.TimeoutError{Provider: upstreamName, Timeout: c.client.Timeout}
	}

	code := ""
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		code = "ENOTFOUND"
	case errors.Is(err, syscall.ECONNREFUSED):
		code = "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		code = "ECONNRESET"
	}
	return &providers.ConnectionError{Provider: upstreamName, Code: code, Cause: err}
}
