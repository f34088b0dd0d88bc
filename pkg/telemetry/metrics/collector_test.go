package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	c := NewCollector(Config{})

	c.RecordRequest("/v1/chat/completions", "200", false, 150*time.Millisecond)
	c.RecordRequest("/v1/chat/completions", "200", true, 2*time.Second)
	c.RecordRequest("/v1/models", "200", false, 5*time.Millisecond)

	if got := testutil.CollectAndCount(c.requestsTotal); got != 3 {
		t.Errorf("request series = %d, want 3", got)
	}
}

func TestStreamGauge(t *testing.T) {
	c := NewCollector(Config{})
	c.StreamStarted()
	c.StreamStarted()
	c.StreamEnded()

	if got := testutil.ToFloat64(c.streamingActive); got != 1 {
		t.Errorf("streaming_active = %v, want 1", got)
	}
}

func TestRecordTokensSkipsZero(t *testing.T) {
	c := NewCollector(Config{})
	c.RecordTokens("qwen3-8b", 12, 0)

	if got := testutil.ToFloat64(c.tokensTotal.WithLabelValues("qwen3-8b", "prompt")); got != 12 {
		t.Errorf("prompt tokens = %v", got)
	}
	if got := testutil.CollectAndCount(c.tokensTotal); got != 1 {
		t.Errorf("token series = %d, want 1 (completion=0 skipped)", got)
	}
}

func TestHandlerServesNamespace(t *testing.T) {
	c := NewCollector(Config{})
	c.RecordProviderCall("lm-studio", "ok")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "qwen_proxy_provider_requests_total") {
		t.Error("scrape output missing namespaced metric")
	}
}
