// Package telemetry registers the gateway's Prometheus collectors and
// exposes the /metrics scrape endpoint.
//
// Grounded on haasonsaas-nexus's internal/observability/metrics.go: a
// single Metrics struct of promauto-registered CounterVec/HistogramVec
// fields plus small Record* methods, trimmed from that repo's messaging/
// webhook/session label set down to the gateway's own labels:
// function_name, variant_name, provider_name and status on the inference
// collectors; provider_name, model_name and kind on the token counter;
// function_name and variant_name on variant fallbacks; model_name and
// provider_name on provider fallbacks; and method, path and status_code on
// the HTTP request histogram.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the gateway registers at startup.
type Metrics struct {
	// InferenceDuration measures end-to-end Infer/InferStream latency.
	// Labels: function_name, variant_name, provider_name, status (success|error)
	InferenceDuration *prometheus.HistogramVec

	// InferenceCounter counts inference attempts by outcome.
	// Labels: function_name, variant_name, provider_name, status
	InferenceCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption per provider/model.
	// Labels: provider_name, model_name, kind (input|output)
	TokensUsed *prometheus.CounterVec

	// VariantFallbacks counts a variant's failures that caused the
	// dispatcher to try the next weighted candidate.
	// Labels: function_name, variant_name
	VariantFallbacks *prometheus.CounterVec

	// ProviderFallbacks counts a model's per-provider routing failures.
	// Labels: model_name, provider_name
	ProviderFallbacks *prometheus.CounterVec

	// HTTPRequestDuration measures handler latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors against the default registry. Call
// once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		InferenceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaygate_inference_duration_seconds",
				Help:    "Duration of inference requests in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"function_name", "variant_name", "provider_name", "status"},
		),
		InferenceCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaygate_inference_requests_total",
				Help: "Total number of inference requests by function, variant, provider, and status",
			},
			[]string{"function_name", "variant_name", "provider_name", "status"},
		),
		TokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaygate_tokens_total",
				Help: "Total number of tokens processed by provider, model, and kind",
			},
			[]string{"provider_name", "model_name", "kind"},
		),
		VariantFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaygate_variant_fallbacks_total",
				Help: "Total number of variant attempts that failed and fell back",
			},
			[]string{"function_name", "variant_name"},
		),
		ProviderFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaygate_provider_fallbacks_total",
				Help: "Total number of provider attempts that failed and fell back",
			},
			[]string{"model_name", "provider_name"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaygate_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordInference records one completed (successful or failed) inference.
func (m *Metrics) RecordInference(functionName, variantName, providerName, status string, durationSeconds float64) {
	m.InferenceCounter.WithLabelValues(functionName, variantName, providerName, status).Inc()
	m.InferenceDuration.WithLabelValues(functionName, variantName, providerName, status).Observe(durationSeconds)
}

// RecordTokens records a usage delta for one provider call.
func (m *Metrics) RecordTokens(providerName, modelName string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(providerName, modelName, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(providerName, modelName, "output").Add(float64(outputTokens))
	}
}

// RecordVariantFallback records a variant attempt that failed and caused
// the dispatcher to try the next weighted candidate.
func (m *Metrics) RecordVariantFallback(functionName, variantName string) {
	m.VariantFallbacks.WithLabelValues(functionName, variantName).Inc()
}

// RecordProviderFallback records a model's provider attempt that failed
// and caused routing to try the next entry.
func (m *Metrics) RecordProviderFallback(modelName, providerName string) {
	m.ProviderFallbacks.WithLabelValues(modelName, providerName).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// Handler returns the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
