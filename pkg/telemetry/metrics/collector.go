// Package metrics owns the Prometheus registry and the counters, gauges,
// and histograms the gateway records per request and per provider call.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector registers and records all gateway metrics on one registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	streamingActive  prometheus.Gauge
	providerRequests *prometheus.CounterVec
	providerErrors   *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
}

// Config configures the collector.
type Config struct {
	// Namespace prefixes every metric name. Default "qwen_proxy".
	Namespace string

	// DurationBuckets are the request latency buckets in seconds. The
	// defaults cover interactive LLM latencies (100ms to 120s).
	DurationBuckets []float64
}

// NewCollector creates a collector on its own registry.
func NewCollector(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "qwen_proxy"
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Total gateway requests by path, status, and streaming mode.",
		}, []string{"path", "status", "stream"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request latency by path.",
			Buckets:   cfg.DurationBuckets,
		}, []string{"path"}),
		streamingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "streaming_active",
			Help:      "Streams currently being relayed.",
		}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream provider calls by provider id and outcome.",
		}, []string{"provider", "outcome"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by provider id and error type.",
		}, []string{"provider", "type"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by upstreams, by model and direction.",
		}, []string{"model", "direction"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently persisted and unexpired.",
		}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.streamingActive,
		c.providerRequests,
		c.providerErrors,
		c.tokensTotal,
		c.sessionsActive,
	)
	return c
}

// Registry returns the underlying registry for handler wiring.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records one completed gateway request.
func (c *Collector) RecordRequest(path, status string, stream bool, duration time.Duration) {
	streamLabel := "false"
	if stream {
		streamLabel = "true"
	}
	c.requestsTotal.WithLabelValues(path, status, streamLabel).Inc()
	c.requestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// StreamStarted marks a stream relay as active.
func (c *Collector) StreamStarted() {
	c.streamingActive.Inc()
}

// StreamEnded marks a stream relay as finished.
func (c *Collector) StreamEnded() {
	c.streamingActive.Dec()
}

// RecordProviderCall records one upstream call and its outcome
// ("ok" or "error").
func (c *Collector) RecordProviderCall(provider, outcome string) {
	c.providerRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderError records a typed upstream failure.
func (c *Collector) RecordProviderError(provider, errType string) {
	c.providerErrors.WithLabelValues(provider, errType).Inc()
}

// RecordTokens records upstream-reported token usage.
func (c *Collector) RecordTokens(model string, prompt, completion int) {
	if prompt > 0 {
		c.tokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		c.tokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

// SetActiveSessions updates the live session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}
