package providers

import (
	"reflect"
	"testing"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
)

func TestNormalizeTools_DefaultsAndStrict(t *testing.T) {
	in := []openai.Tool{{
		Type: "function",
		Function: map[string]interface{}{
			"name":   "get_weather",
			"strict": true,
			"parameters": map[string]interface{}{
				"properties": map[string]interface{}{},
			},
		},
	}}

	out := NormalizeTools(in)
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	fn := out[0].Function

	if got := fn["description"]; got != "Execute get_weather function" {
		t.Errorf("description = %v", got)
	}
	if _, ok := fn["strict"]; ok {
		t.Error("strict survived normalisation")
	}
	params := fn["parameters"].(map[string]interface{})
	if params["type"] != "object" {
		t.Errorf("parameters.type = %v", params["type"])
	}
}

func TestNormalizeTools_MissingParameters(t *testing.T) {
	out := NormalizeTools([]openai.Tool{{
		Type:     "function",
		Function: map[string]interface{}{"name": "noop"},
	}})
	params, ok := out[0].Function["parameters"].(map[string]interface{})
	if !ok {
		t.Fatal("parameters not added")
	}
	if params["type"] != "object" {
		t.Errorf("parameters.type = %v", params["type"])
	}
}

func TestNormalizeTools_KeepsExistingDescription(t *testing.T) {
	out := NormalizeTools([]openai.Tool{{
		Type: "function",
		Function: map[string]interface{}{
			"name":        "lookup",
			"description": "Search the index",
		},
	}})
	if got := out[0].Function["description"]; got != "Search the index" {
		t.Errorf("description = %v", got)
	}
}

func TestNormalizeTools_NonFunctionPassThrough(t *testing.T) {
	in := []openai.Tool{{Type: "code_interpreter"}}
	out := NormalizeTools(in)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("non-function tool modified: %+v", out)
	}
}

func TestNormalizeTools_Idempotent(t *testing.T) {
	in := []openai.Tool{{
		Type: "function",
		Function: map[string]interface{}{
			"name":   "get_weather",
			"strict": false,
		},
	}}
	once := NormalizeTools(in)
	twice := NormalizeTools(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalizeTools_Empty(t *testing.T) {
	if out := NormalizeTools(nil); out != nil {
		t.Errorf("NormalizeTools(nil) = %v", out)
	}
}
