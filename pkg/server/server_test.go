package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tonetuner/pkg/app"
	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/converter"
	"github.com/kadirpekel/tonetuner/pkg/llms"
	"github.com/kadirpekel/tonetuner/pkg/store"
)

type failingRewriter struct{ err error }

func (f failingRewriter) Name() string { return "failing" }

func (f failingRewriter) Rewrite(context.Context, llms.Request) (*llms.Response, error) {
	return nil, f.err
}

func testConfig() *config.Config {
	cfg := &config.Config{
		LLM:       config.LLMConfig{Provider: config.LLMProviderSimulated},
		RateLimit: config.RateLimitConfig{
			Requests: config.WindowLimits{Minute: 2},
			Tokens:   config.WindowLimits{Day: 1_000_000},
		},
		Gate:      config.GateConfig{MaxDailyConversions: 5},
		Retry:     config.RetryConfig{MaxRetries: config.IntPtr(0)},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...app.Option) *httptest.Server {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))
	opts = append([]app.Option{app.WithStore(store.NewMemoryStore()), app.WithClock(c)}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ts := httptest.NewServer(New(a).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, user, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestConvert(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"sorry, I can't come","tone":"formal"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "With respect, I apologize, I cannot come.", body["convertedText"])
	assert.Equal(t, "formal", body["tone"])
	assert.Equal(t, "u1", resp.Header.Get("X-User-ID"))
	assert.NotEmpty(t, body["id"])
}

func TestConvert_AnonymousUser(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "", `{"text":"hello","tone":"casual"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Regexp(t, `^user_\d+_[a-z0-9]{9}$`, resp.Header.Get("X-User-ID"))
}

func TestConvert_Errors(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"text":`, http.StatusBadRequest, "validation_error"},
		{"unknown field", `{"text":"hi","tone":"formal","x":1}`, http.StatusBadRequest, "validation_error"},
		{"empty text", `{"text":"  ","tone":"formal"}`, http.StatusBadRequest, "validation_error"},
		{"unknown tone", `{"text":"hi","tone":"pirate"}`, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"].(map[string]any)["code"])
		})
	}
}

func TestConvert_RateLimitedHeaders(t *testing.T) {
	ts := newTestServer(t, testConfig())

	for range 2 {
		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	assert.Equal(t, "rate_limited", body["error"].(map[string]any)["code"])
}

func TestConvert_QuotaExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.MaxDailyConversions = 1
	ts := newTestServer(t, cfg)

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "quota_exceeded", body["error"].(map[string]any)["code"])
}

func TestConvert_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   converter.Kind
	}{
		{"auth", &llms.APIError{Provider: "openai", StatusCode: 401, Message: "bad key"}, http.StatusBadGateway, converter.KindUpstreamAuth},
		{"not found", &llms.APIError{Provider: "openai", StatusCode: 404}, http.StatusBadGateway, converter.KindUpstreamNotFound},
		{"unavailable", &llms.APIError{Provider: "openai", StatusCode: 503, RetryAfter: 2 * time.Second}, http.StatusServiceUnavailable, converter.KindUpstreamTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testConfig(), app.WithRewriter(failingRewriter{err: tt.err}))

			resp, body := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			detail := body["error"].(map[string]any)
			assert.Equal(t, string(tt.code), detail["code"])
			assert.NotContains(t, detail["message"], "bad key")

			// nothing was charged
			_, quota := do(t, http.MethodGet, ts.URL+"/v1/quota", "u1", "")
			assert.Equal(t, float64(0), quota["gate"].(map[string]any)["dailyConversionCount"])
		})
	}
}

func TestQuotaAndHistory(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"send it asap","tone":"professional"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, quota := do(t, http.MethodGet, ts.URL+"/v1/quota", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	gateState := quota["gate"].(map[string]any)
	assert.Equal(t, float64(1), gateState["dailyConversionCount"])
	assert.Equal(t, float64(5), gateState["maxDailyConversions"])
	minute := quota["requests"].(map[string]any)["minute"].(map[string]any)
	assert.Equal(t, float64(1), minute["current"])
	assert.Equal(t, float64(1), minute["remaining"])

	resp, hist := do(t, http.MethodGet, ts.URL+"/v1/history?limit=10", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := hist["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "For your attention: send it at your earliest convenience.", entries[0].(map[string]any)["convertedText"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/quota", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/history?limit=abc", "u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCosts(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hello there","tone":"casual"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, status := do(t, http.MethodGet, ts.URL+"/v1/costs", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "simulated", status["provider"])
	assert.Equal(t, float64(1), status["costs"].(map[string]any)["total_requests"])

	resp, day := do(t, http.MethodGet, ts.URL+"/v1/costs/daily?date=2026-07-01", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), day["requestCount"])

	// without a date the app clock picks the day
	resp, day = do(t, http.MethodGet, ts.URL+"/v1/costs/daily", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026-07-01", day["date"])
	assert.Equal(t, float64(1), day["requestCount"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/costs/daily?date=07/01/2026", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, month := do(t, http.MethodGet, ts.URL+"/v1/costs/monthly?year=2026&month=7", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), month["requestCount"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/costs/monthly?month=13", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, series := do(t, http.MethodGet, ts.URL+"/v1/costs/series?days=3", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, series["days"], 3)
}

func TestResetUser(t *testing.T) {
	ts := newTestServer(t, testConfig())

	for range 2 {
		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ := do(t, http.MethodDelete, ts.URL+"/v1/users/u1/quota", "", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndRouting(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/convert", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, tones := do(t, http.MethodGet, ts.URL+"/v1/tones", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"casual", "formal", "friendly", "professional"}, tones["tones"])
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics.Enabled = true
	ts := newTestServer(t, cfg, app.WithObservability())

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/convert", "u1", `{"text":"hi","tone":"formal"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(ts.URL + cfg.Observability.Metrics.Endpoint)
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "conversions_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/convert", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
