// Package observability provides OpenTelemetry tracing and Prometheus metrics
// for conversions.
//
// # Configuration
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    sampling_rate: 1.0
//	  metrics:
//	    enabled: true

package observability

const (
	DefaultServiceName  = "tonetuner"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

// Span names.
const (
	SpanConversion      = "tonetuner.convert"
	SpanUpstreamAttempt = "tonetuner.upstream_attempt"
)

// Conversion attributes.
const (
	AttrTone       = "tonetuner.tone"
	AttrUserID     = "tonetuner.user_id"
	AttrAttempt    = "tonetuner.attempt"
	AttrInputChars = "tonetuner.input_chars"
)

// GenAI semantic conventions for upstream attempts.
const (
	AttrGenAISystem            = "gen_ai.system"
	AttrGenAIRequestModel      = "gen_ai.request.model"
	AttrGenAIRequestMaxTokens  = "gen_ai.request.max_tokens"
	AttrGenAIRequestTemp       = "gen_ai.request.temperature"
	AttrGenAIUsageInputTokens  = "gen_ai.usage.input_tokens"
	AttrGenAIUsageOutputTokens = "gen_ai.usage.output_tokens"
)

// HTTP server attributes.
const (
	AttrHTTPMethod       = "http.request.method"
	AttrHTTPRoute        = "http.route"
	AttrHTTPStatusCode   = "http.response.status_code"
	AttrHTTPResponseSize = "http.response.body.size"
	AttrErrorType        = "error.type"
)
