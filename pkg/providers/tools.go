package providers

import (
	"fmt"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
)

// NormalizeTools rewrites each function tool definition into the canonical
// shape the upstream providers accept:
//
//	{type:"function", function:{name, description, parameters:{type, ...}}}
//
// Missing descriptions default to "Execute <name> function", the parameters
// object gains type "object" when absent, and any "strict" field is removed.
// Non-function tools pass through untouched. The function is pure and
// idempotent: normalising twice equals normalising once.
func NormalizeTools(tools []openai.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		if tool.Type != "" && tool.Type != "function" {
			out[i] = tool
			continue
		}
		out[i] = openai.Tool{
			Type:     "function",
			Function: normalizeFunction(tool.Function),
		}
	}
	return out
}

// normalizeFunction canonicalises a single function definition map.
func normalizeFunction(fn map[string]interface{}) map[string]interface{} {
	name, _ := fn["name"].(string)

	norm := make(map[string]interface{}, len(fn))
	for k, v := range fn {
		if k == "strict" {
			continue
		}
		norm[k] = v
	}

	if desc, ok := norm["description"].(string); !ok || desc == "" {
		norm["description"] = fmt.Sprintf("Execute %s function", name)
	}

	params, ok := norm["parameters"].(map[string]interface{})
	if !ok {
		params = map[string]interface{}{}
	}
	normParams := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		normParams[k] = v
	}
	if _, ok := normParams["type"]; !ok {
		normParams["type"] = "object"
	}
	norm["parameters"] = normParams

	return norm
}
