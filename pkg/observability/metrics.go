package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records conversion metrics.
type Metrics interface {
	RecordConversion(ctx context.Context, tone, status string, duration time.Duration)
	RecordRateLimitDenial(ctx context.Context, window, kind string)
	RecordUpstreamAttempt(ctx context.Context, provider, outcome string, duration time.Duration)
	RecordUsage(ctx context.Context, tokens int64, cost float64)
	RecordCostAlert(ctx context.Context, kind string)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
	Handler() http.Handler
}

// NoopMetrics drops every recording. Its Handler answers 503 so a scrape
// against a server without metrics fails loudly.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordConversion(context.Context, string, string, time.Duration)       {}
func (NoopMetrics) RecordRateLimitDenial(context.Context, string, string)                 {}
func (NoopMetrics) RecordUpstreamAttempt(context.Context, string, string, time.Duration)  {}
func (NoopMetrics) RecordUsage(context.Context, int64, float64)                           {}
func (NoopMetrics) RecordCostAlert(context.Context, string)                               {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "metrics are disabled", http.StatusServiceUnavailable)
	})
}

// PrometheusMetrics exports OTel instruments through a Prometheus
// registry. The zero value and a nil pointer drop every recording.
type PrometheusMetrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	conversions      metric.Int64Counter
	conversionTime   metric.Float64Histogram
	denials          metric.Int64Counter
	upstreamAttempts metric.Int64Counter
	upstreamDuration metric.Float64Histogram
	tokens           metric.Int64Counter
	cost             metric.Float64Counter
	costAlerts       metric.Int64Counter
	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
}

// NewPrometheusMetrics creates the instruments on a private registry.
func NewPrometheusMetrics(cfg *MetricsConfig) (*PrometheusMetrics, error) {
	ns := DefaultServiceName
	if cfg != nil && cfg.Namespace != "" {
		ns = cfg.Namespace
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithoutTargetInfo(),
		prometheus.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := provider.Meter(ns)

	m := &PrometheusMetrics{registry: registry, provider: provider}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.conversions, "conversions_total", "Conversions by tone and status"},
		{&m.denials, "rate_limit_denials_total", "Rate limit denials by window and kind"},
		{&m.upstreamAttempts, "upstream_attempts_total", "Rewrite attempts by provider and outcome"},
		{&m.tokens, "tokens_total", "Tokens recorded by the cost monitor"},
		{&m.costAlerts, "cost_alerts_total", "Cost alerts raised by kind"},
		{&m.httpRequests, "http_requests_total", "HTTP requests by method, route and status"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(ns+"_"+c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.conversionTime, "conversion_duration_seconds", "End-to-end conversion duration in seconds"},
		{&m.upstreamDuration, "upstream_duration_seconds", "Rewrite attempt duration in seconds"},
		{&m.httpDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
	}
	for _, h := range histograms {
		*h.dst, err = meter.Float64Histogram(ns+"_"+h.name, metric.WithDescription(h.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	m.cost, err = meter.Float64Counter(ns+"_cost_usd_total", metric.WithDescription("Accumulated spend in USD"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordConversion(ctx context.Context, tone, status string, duration time.Duration) {
	if m == nil || m.conversions == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tone", tone),
		attribute.String("status", status),
	)
	m.conversions.Add(ctx, 1, attrs)
	m.conversionTime.Record(ctx, duration.Seconds(), attrs)
}

func (m *PrometheusMetrics) RecordRateLimitDenial(ctx context.Context, window, kind string) {
	if m == nil || m.denials == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("window", window),
		attribute.String("kind", kind),
	))
}

func (m *PrometheusMetrics) RecordUpstreamAttempt(ctx context.Context, provider, outcome string, duration time.Duration) {
	if m == nil || m.upstreamAttempts == nil {
		return
	}
	m.upstreamAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
	m.upstreamDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

func (m *PrometheusMetrics) RecordUsage(ctx context.Context, tokens int64, cost float64) {
	if m == nil || m.tokens == nil {
		return
	}
	if tokens > 0 {
		m.tokens.Add(ctx, tokens)
	}
	if cost > 0 {
		m.cost.Add(ctx, cost)
	}
}

func (m *PrometheusMetrics) RecordCostAlert(ctx context.Context, kind string) {
	if m == nil || m.costAlerts == nil {
		return
	}
	m.costAlerts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return NoopMetrics{}.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *PrometheusMetrics) Registry() *promclient.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Shutdown stops the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
