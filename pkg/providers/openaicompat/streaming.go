package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
)

// maxSSELine bounds a single SSE line. Chunks carry small deltas; a line
// this large means the upstream is not speaking SSE.
const maxSSELine = 1 << 20

// StreamChatCompletion opens a streaming completion and decodes the
// upstream's SSE frames into chunks. The returned channel closes after the
// terminal [DONE] frame, the end of the body, or an error element.
func (c *Client) StreamChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan providers.StreamChunk, error) {
	body, err := c.marshalRequest(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go c.readStream(ctx, resp, out)
	return out, nil
}

// readStream decodes SSE frames until the stream ends. It always closes
// both the response body and the output channel.
func (c *Client) readStream(ctx context.Context, resp *http.Response, out chan<- providers.StreamChunk) {
	defer close(out)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.send(ctx, out, providers.StreamChunk{Err: &providers.ParseError{
				Provider:    c.id,
				RawResponse: data,
				Cause:       err,
			}})
			return
		}

		if !c.send(ctx, out, providers.StreamChunk{Chunk: &chunk}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			c.send(ctx, out, providers.StreamChunk{Err: ctx.Err()})
			return
		}
		c.send(ctx, out, providers.StreamChunk{Err: &providers.StreamError{
			Provider: c.id,
			Message:  "stream interrupted",
			Cause:    err,
		}})
	}
}

// send delivers one element unless the context is cancelled first.
func (c *Client) send(ctx context.Context, out chan<- providers.StreamChunk, sc providers.StreamChunk) bool {
	select {
	case out <- sc:
		return true
	case <-ctx.Done():
		return false
	}
}
