package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("fine"))
		case "/limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(WithTimeout(5 * time.Second))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/limited", nil)
	_, err = c.Do(req)
	se, ok := AsStatusError(err)
	require.True(t, ok, "want StatusError, got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, 7*time.Second, se.RetryAfter)
	assert.Contains(t, string(se.Body), "slow down")
	assert.True(t, se.IsRetryable())

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/missing", nil)
	_, err = c.Do(req)
	se, ok = AsStatusError(err)
	require.True(t, ok)
	assert.False(t, se.IsRetryable())
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		400: false, 401: false, 403: false, 404: false,
		408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
	} {
		assert.Equal(t, want, IsRetryableStatus(code), "status %d", code)
	}
}

func TestParseRetryAfter(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-4"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(fixed.Add(90*time.Second).Format(http.TimeFormat)))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(fixed.Add(-time.Minute).Format(http.TimeFormat)))
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after-ms", "1500")
	h.Set("x-ratelimit-remaining-requests", "12")
	h.Set("x-ratelimit-remaining-tokens", "3400")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 1500*time.Millisecond, info.RetryAfter)
	assert.Equal(t, 12, info.RequestsRemaining)
	assert.Equal(t, 3400, info.TokensRemaining)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, 500*time.Millisecond, p.Delay(0, 0))
	assert.Equal(t, time.Second, p.Delay(1, 0))
	assert.Equal(t, 2*time.Second, p.Delay(2, 0))
	assert.Equal(t, 10*time.Second, p.Delay(10, 0), "capped")
	assert.Equal(t, 4*time.Second, p.Delay(0, 4*time.Second), "honours Retry-After")
	assert.Equal(t, 10*time.Second, p.Delay(0, time.Hour), "Retry-After is capped too")
}

func TestPolicyFromConfig(t *testing.T) {
	c := &config.RetryConfig{}
	c.SetDefaults()
	p := PolicyFromConfig(c)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func retryTransient(err error) (bool, time.Duration) {
	return errors.Is(err, errTransient), 0
}

func recordingPolicy(retries int, slept *[]time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: retries,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return ctx.Err()
		},
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var slept []time.Duration
		attempts, err := Retry(context.Background(), recordingPolicy(3, &slept), retryTransient,
			func(ctx context.Context, attempt int) error {
				if attempt < 2 {
					return errTransient
				}
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		var slept []time.Duration
		attempts, err := Retry(context.Background(), recordingPolicy(3, &slept), retryTransient,
			func(ctx context.Context, attempt int) error { return errFatal })
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, attempts)
		assert.Empty(t, slept)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		var slept []time.Duration
		attempts, err := Retry(context.Background(), recordingPolicy(2, &slept), retryTransient,
			func(ctx context.Context, attempt int) error { return errTransient })
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, attempts)
		assert.Len(t, slept, 2)
	})

	t.Run("zero retries", func(t *testing.T) {
		var slept []time.Duration
		attempts, err := Retry(context.Background(), recordingPolicy(0, &slept), retryTransient,
			func(ctx context.Context, attempt int) error { return errTransient })
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancellation stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var slept []time.Duration
		attempts, err := Retry(ctx, recordingPolicy(5, &slept), retryTransient,
			func(ctx context.Context, attempt int) error {
				cancel()
				return errTransient
			})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
		assert.Empty(t, slept)
	})

	t.Run("real timer honours context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		start := time.Now()
		_, err := Retry(ctx, p, retryTransient, func(ctx context.Context, attempt int) error { return errTransient })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}
