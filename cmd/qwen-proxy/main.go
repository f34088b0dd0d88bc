// Qwen Proxy is a local LLM provider gateway: an OpenAI-compatible HTTP/SSE
// endpoint fronting several backends, with a control plane for operators.
//
// Usage:
//
//	# Start the control plane (spawns the gateway and bridge as children)
//	qwen-proxy serve
//
//	# Run a single role in the foreground
//	qwen-proxy gateway
//	qwen-proxy bridge
//
//	# Show version information
//	qwen-proxy version
package main

func main() {
	Execute()
}
