package gateway

import (
	"testing"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
)

// Upstream responses keep the provider_error type with the upstream status
// attached; the gateway-side status stays in the 502 family instead of
// collapsing 4xx into a client error.
func TestEnvelopeForProviderError(t *testing.T) {
	cases := []struct {
		name     string
		upstream int
		want     int
	}{
		{"upstream 4xx", 422, 502},
		{"upstream 500", 500, 502},
		{"upstream 503", 503, 503},
		{"upstream 504", 504, 504},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := envelopeFor(&providers.ProviderError{Provider: "lm", Status: tc.upstream, Message: "nope"})
			if resp.Error.Type != openai.ErrorTypeProvider {
				t.Errorf("type = %q, want %q", resp.Error.Type, openai.ErrorTypeProvider)
			}
			if resp.Error.Provider != "lm" {
				t.Errorf("provider = %q, want lm", resp.Error.Provider)
			}
			if resp.Error.Status != tc.upstream {
				t.Errorf("status = %d, want %d", resp.Error.Status, tc.upstream)
			}
			if got := resp.Error.HTTPStatusCode(); got != tc.want {
				t.Errorf("http status = %d, want %d", got, tc.want)
			}
		})
	}
}
