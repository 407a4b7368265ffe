package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestPrometheusMetrics_Exposition(t *testing.T) {
	m, err := NewPrometheusMetrics(&MetricsConfig{Namespace: "tonetuner"})
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordConversion(ctx, "formal", "success", 120*time.Millisecond)
	m.RecordRateLimitDenial(ctx, "minute", "count")
	m.RecordUpstreamAttempt(ctx, "openai", "transient", time.Second)
	m.RecordUsage(ctx, 1500, 0.000225)
	m.RecordCostAlert(ctx, "threshold")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"tonetuner_conversions_total",
		"tonetuner_rate_limit_denials_total",
		"tonetuner_upstream_attempts_total",
		"tonetuner_tokens_total",
		"tonetuner_cost_usd_total",
		"tonetuner_cost_alerts_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tone="formal"`)
}

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var m *PrometheusMetrics
	ctx := context.Background()

	m.RecordConversion(ctx, "formal", "success", time.Millisecond)
	m.RecordUsage(ctx, 10, 0.1)
	m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	assert.NoError(t, m.Shutdown(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	(&PrometheusMetrics{}).RecordCostAlert(ctx, "daily_limit")
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	m.RecordConversion(context.Background(), "casual", "error", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	cfg := &TracingConfig{Enabled: true}
	cfg.SetDefaults()
	tr, err := newTracer(cfg, sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr, exporter
}

func TestTracer_Spans(t *testing.T) {
	tr, exporter := newRecordingTracer(t)

	ctx, conv := tr.StartConversion(context.Background(), "u1", "formal", 42)
	_, attempt := tr.StartUpstreamAttempt(ctx, "openai", "gpt-3.5-turbo", 1, 500, 0.7)
	tr.AddUsage(attempt, 30, 12)
	tr.RecordError(attempt, errors.New("HTTP 503"))
	attempt.End()
	conv.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanUpstreamAttempt, spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, SpanConversion, spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartConversion(context.Background(), "u", "casual", 1)
	assert.NotNil(t, ctx)
	tr.RecordError(span, errors.New("x"))
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(context.Background(), &TracingConfig{})
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestHTTPMiddleware(t *testing.T) {
	tr, exporter := newRecordingTracer(t)
	m, err := NewPrometheusMetrics(nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(tr, m))
	r.Get("/v1/history/{user}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history/alice", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/history/{user}", spans[0].Name)
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind)

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := out.Body.String()
	assert.True(t, strings.Contains(body, `route="/v1/history/{user}"`), body)
	assert.NotContains(t, body, "alice")
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, "tonetuner", cfg.Tracing.ServiceName)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
	require.NoError(t, cfg.Validate())

	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"
	assert.ErrorContains(t, cfg.Validate(), "invalid exporter")

	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 2
	assert.ErrorContains(t, cfg.Validate(), "sampling_rate")
}

func TestManager(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, err)
	assert.True(t, m.MetricsEnabled())
	assert.Nil(t, m.Tracer())
	assert.NoError(t, m.Shutdown(context.Background()))

	noop := NoopManager()
	assert.False(t, noop.MetricsEnabled())
	assert.IsType(t, NoopMetrics{}, noop.Metrics())
}
