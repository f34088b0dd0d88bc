// Package openai defines the OpenAI-compatible wire types shared by the
// gateway, the web-chat bridge, and the provider adapters: chat completion
// requests, unary responses, stream chunks, model descriptors, and the error
// envelope returned by every endpoint.
package openai
