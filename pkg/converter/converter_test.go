package converter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/cost"
	"github.com/kadirpekel/tonetuner/pkg/gate"
	"github.com/kadirpekel/tonetuner/pkg/history"
	"github.com/kadirpekel/tonetuner/pkg/httpclient"
	"github.com/kadirpekel/tonetuner/pkg/llms"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
	"github.com/kadirpekel/tonetuner/pkg/store"
	"github.com/kadirpekel/tonetuner/pkg/tone"
)

// scriptedRewriter replays one step per attempt. A nil step answers
// successfully; a step returning errBlock waits for the attempt deadline.
type scriptedRewriter struct {
	steps []error
	calls atomic.Int32
	usage int
}

var errBlock = errors.New("block until deadline")

func (r *scriptedRewriter) Name() string { return "scripted" }

func (r *scriptedRewriter) Rewrite(ctx context.Context, req llms.Request) (*llms.Response, error) {
	n := int(r.calls.Add(1)) - 1
	if n < len(r.steps) && r.steps[n] != nil {
		if errors.Is(r.steps[n], errBlock) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, r.steps[n]
	}
	return &llms.Response{
		Text:        "[" + req.Tone + "] " + req.Text,
		Model:       "test-model",
		TotalTokens: r.usage,
	}, nil
}

type fixedEstimator struct{}

func (fixedEstimator) EstimateRequest(_, text string, maxCompletion int) int64 {
	return int64(len(text) + maxCompletion)
}

func (fixedEstimator) Count(text string) int { return len(text) }

type fixture struct {
	store   *store.MemoryStore
	clock   *clock.Manual
	gate    *gate.Gate
	limiter *ratelimit.Limiter
	cost    *cost.Monitor
	history *history.History
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	c := clock.NewManual(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	quiet := cost.AlertSinkFunc(func(context.Context, cost.Alert) error { return nil })
	return &fixture{
		store:   s,
		clock:   c,
		gate:    gate.New(s, 5, gate.WithClock(c)),
		limiter: ratelimit.New(s, ratelimit.WithClock(c)),
		cost:    cost.New(s, nil, cost.WithClock(c), cost.WithAlertSink(quiet)),
		history: history.New(s),
	}
}

func (f *fixture) converter(t *testing.T, rw llms.Rewriter, opts ...Option) *Converter {
	t.Helper()
	tones, err := tone.NewRegistry(nil, 100)
	require.NoError(t, err)

	base := []Option{
		WithGate(f.gate),
		WithLimiter(f.limiter, ratelimit.Quota{
			Requests: map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 10},
			Tokens:   map[ratelimit.TimeWindow]int64{ratelimit.WindowDay: 100000},
		}),
		WithCostMonitor(f.cost),
		WithHistory(f.history),
		WithEstimator(fixedEstimator{}),
		WithClock(f.clock),
		WithAttemptTimeout(20 * time.Millisecond),
		WithRetryPolicy(httpclient.RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			Sleep:      func(context.Context, time.Duration) error { return nil },
		}),
	}
	return New(rw, tones, append(base, opts...)...)
}

// snapshot copies every key in the store.
func (f *fixture) snapshot(t *testing.T) map[string]string {
	t.Helper()
	ctx := context.Background()
	keys, err := f.store.ListKeys(ctx, "")
	require.NoError(t, err)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, _, err := f.store.Get(ctx, k)
		require.NoError(t, err)
		out[k] = v
	}
	return out
}

func TestConvert_Success(t *testing.T) {
	f := newFixture(t)
	rw := &scriptedRewriter{usage: 250}
	c := f.converter(t, rw)
	ctx := context.Background()

	res, err := c.Convert(ctx, Request{UserID: "u1", Text: "  hello there  ", Tone: "Formal"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "hello there", res.OriginalText)
	assert.Equal(t, "[formal] hello there", res.ConvertedText)
	assert.Equal(t, "formal", res.Tone)
	assert.Equal(t, 3, res.WordCount)
	assert.Equal(t, int64(250), res.Tokens)
	assert.False(t, res.TokensEstimated)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "test-model", res.Model)
	assert.Equal(t, f.clock.Now(), res.Timestamp)

	st, err := f.gate.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.DailyConversionCount)

	today, err := f.cost.DailyCost(ctx, clock.DayKey(f.clock.Now()))
	require.NoError(t, err)
	require.NotNil(t, today)
	assert.Equal(t, int64(250), today.TotalTokens)
	assert.Equal(t, int64(1), today.RequestCount)

	entries, err := f.history.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.ID, entries[0].ID)

	status := f.limiter.RequestStatus(ctx, "u1", map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 10})
	assert.Equal(t, int64(1), status[ratelimit.WindowMinute].Current)
}

func TestConvert_EstimatesMissingUsage(t *testing.T) {
	f := newFixture(t)
	c := f.converter(t, &scriptedRewriter{})

	res, err := c.Convert(context.Background(), Request{UserID: "u1", Text: "hi", Tone: "casual"})
	require.NoError(t, err)

	assert.True(t, res.TokensEstimated)
	// prompt estimate plus the completion length
	assert.Equal(t, int64(len("hi")+len("[casual] hi")), res.Tokens)
}

func TestConvert_Validation(t *testing.T) {
	f := newFixture(t)
	rw := &scriptedRewriter{}
	c := f.converter(t, rw, WithMaxInputChars(10))

	tests := []struct {
		name string
		req  Request
	}{
		{"empty text", Request{UserID: "u1", Text: "   ", Tone: "formal"}},
		{"too long", Request{UserID: "u1", Text: strings.Repeat("é", 11), Tone: "formal"}},
		{"missing user", Request{Text: "hello", Tone: "formal"}},
		{"unknown tone", Request{UserID: "u1", Text: "hello", Tone: "sarcastic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Convert(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation), "got %v", err)
		})
	}

	assert.Zero(t, rw.calls.Load())
	assert.Empty(t, f.snapshot(t))
}

func TestConvert_MaxInputCountsRunes(t *testing.T) {
	f := newFixture(t)
	c := f.converter(t, &scriptedRewriter{}, WithMaxInputChars(10))

	_, err := c.Convert(context.Background(), Request{UserID: "u1", Text: strings.Repeat("é", 10), Tone: "formal"})
	assert.NoError(t, err)
}

func TestConvert_GateClosed(t *testing.T) {
	f := newFixture(t)
	rw := &scriptedRewriter{}
	c := f.converter(t, rw)
	ctx := context.Background()

	for range 5 {
		_, err := c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "friendly"})
		require.NoError(t, err)
	}

	_, err := c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "friendly"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindQuotaExceeded))
	assert.Equal(t, int32(5), rw.calls.Load())

	// other users have their own allowance
	_, err = c.Convert(ctx, Request{UserID: "u2", Text: "hello", Tone: "friendly"})
	assert.NoError(t, err)

	// the allowance returns the next UTC day
	f.clock.Advance(24 * time.Hour)
	_, err = c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "friendly"})
	assert.NoError(t, err)
}

// parkedRewriter holds every call until release is closed.
type parkedRewriter struct {
	release chan struct{}
	calls   atomic.Int32
}

func (r *parkedRewriter) Name() string { return "parked" }

func (r *parkedRewriter) Rewrite(ctx context.Context, req llms.Request) (*llms.Response, error) {
	r.calls.Add(1)
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &llms.Response{Text: req.Text, TotalTokens: 5}, nil
}

func TestConvert_ConcurrentCallsRespectGate(t *testing.T) {
	f := newFixture(t)
	rw := &parkedRewriter{release: make(chan struct{})}
	c := f.converter(t, rw,
		WithGate(gate.New(f.store, 1, gate.WithClock(f.clock))),
		WithAttemptTimeout(0))
	ctx := context.Background()

	const callers = 5
	errs := make(chan error, callers)
	for range callers {
		go func() {
			_, err := c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
			errs <- err
		}()
	}

	// every caller but the one holding the slot fails without waiting
	for range callers - 1 {
		select {
		case err := <-errs:
			require.Error(t, err)
			assert.True(t, IsKind(err, KindQuotaExceeded), "got %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("conversions did not finish")
		}
	}
	close(rw.release)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), rw.calls.Load())

	st, err := f.gate.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.DailyConversionCount)
}

func TestConvert_FailureReleasesGateSlot(t *testing.T) {
	f := newFixture(t)
	g := gate.New(f.store, 1, gate.WithClock(f.clock))
	rejected := &llms.APIError{Provider: "openai", StatusCode: http.StatusBadRequest}
	ctx := context.Background()

	_, err := f.converter(t, &scriptedRewriter{steps: []error{rejected}}, WithGate(g)).
		Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
	require.Error(t, err)
	assert.Zero(t, g.Pending("u1"))

	_, err = f.converter(t, &scriptedRewriter{}, WithGate(g)).
		Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
	assert.NoError(t, err)
}

func TestConvert_RateLimited(t *testing.T) {
	f := newFixture(t)
	rw := &scriptedRewriter{usage: 10}
	quota := ratelimit.Quota{Requests: map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 2}}
	c := f.converter(t, rw, WithLimiter(f.limiter, quota))
	ctx := context.Background()

	for range 2 {
		_, err := c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
		require.NoError(t, err)
	}
	f.clock.Advance(15 * time.Second)

	_, err := c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
	assert.Equal(t, int64(45), RetryAfterSeconds(err))
	assert.ErrorIs(t, err, ratelimit.ErrLimited)
	assert.Equal(t, ratelimit.WindowMinute, ratelimit.DeniedBy(err).Window)
	assert.Equal(t, int32(2), rw.calls.Load())

	f.clock.Advance(46 * time.Second)
	_, err = c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
	assert.NoError(t, err)
}

func TestConvert_OversizedRequestIsInvalid(t *testing.T) {
	f := newFixture(t)
	rw := &scriptedRewriter{}
	quota := ratelimit.Quota{Tokens: map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 50}}
	c := f.converter(t, rw, WithLimiter(f.limiter, quota))

	// the fixed estimator charges the text length plus the tone's 100 tokens
	_, err := c.Convert(context.Background(), Request{UserID: "u1", Text: "hello", Tone: "formal"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation), "got %v", err)
	assert.Zero(t, RetryAfterSeconds(err))
	assert.Zero(t, rw.calls.Load())
	assert.Empty(t, f.snapshot(t))
}

func TestConvert_RetriesTimeouts(t *testing.T) {
	f := newFixture(t)
	rw := &scriptedRewriter{steps: []error{errBlock, errBlock}, usage: 120}
	c := f.converter(t, rw)
	ctx := context.Background()

	res, err := c.Convert(ctx, Request{UserID: "u1", Text: "please review", Tone: "professional"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), rw.calls.Load())

	today, err := f.cost.DailyCost(ctx, clock.DayKey(f.clock.Now()))
	require.NoError(t, err)
	require.NotNil(t, today)
	assert.Equal(t, int64(1), today.RequestCount)
	assert.Equal(t, int64(120), today.TotalTokens)

	status := f.limiter.RequestStatus(ctx, "u1", map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 10})
	assert.Equal(t, int64(1), status[ratelimit.WindowMinute].Current)
}

func TestConvert_FailuresLeaveCountersUntouched(t *testing.T) {
	authErr := &llms.APIError{Provider: "openai", StatusCode: http.StatusUnauthorized, Message: "bad key"}
	notFound := &llms.APIError{Provider: "openai", StatusCode: http.StatusNotFound, Message: "no model"}
	unavailable := &llms.APIError{Provider: "openai", StatusCode: http.StatusServiceUnavailable, RetryAfter: 3 * time.Second}
	invalid := &llms.APIError{Provider: "openai", StatusCode: http.StatusBadRequest, Message: "too long"}

	tests := []struct {
		name       string
		steps      []error
		kind       Kind
		attempts   int
		retryAfter int64
	}{
		{"auth", []error{authErr}, KindUpstreamAuth, 1, 0},
		{"not found", []error{notFound}, KindUpstreamNotFound, 1, 0},
		{"bad request", []error{invalid}, KindValidation, 1, 0},
		{"transient exhausted", []error{unavailable, unavailable, unavailable, unavailable}, KindUpstreamTransient, 4, 3},
		{"timeouts exhausted", []error{errBlock, errBlock, errBlock, errBlock}, KindUpstreamTransient, 4, 0},
		{"empty completion", []error{llms.ErrEmptyCompletion}, KindUpstreamTransient, 1, 0},
		{"undecodable response", []error{fmt.Errorf("failed to decode openai response: %w", errors.New("invalid character '<'"))}, KindUpstreamTransient, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			// one earlier success so there is state to compare against
			_, err := f.converter(t, &scriptedRewriter{usage: 50}).Convert(ctx, Request{UserID: "u1", Text: "hi", Tone: "casual"})
			require.NoError(t, err)
			before := f.snapshot(t)

			rw := &scriptedRewriter{steps: tt.steps}
			_, err = f.converter(t, rw).Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
			require.Error(t, err)

			var convErr *Error
			require.ErrorAs(t, err, &convErr)
			assert.Equal(t, tt.kind, convErr.Kind)
			assert.Equal(t, tt.attempts, convErr.Attempts)
			assert.Equal(t, tt.retryAfter, convErr.RetryAfterSeconds)
			assert.Equal(t, int32(tt.attempts), rw.calls.Load())

			assert.Equal(t, before, f.snapshot(t))
		})
	}
}

func TestConvert_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	rw := &scriptedRewriter{steps: []error{context.Canceled}}
	c := f.converter(t, rw)

	cancel()
	_, err := c.Convert(ctx, Request{UserID: "u1", Text: "hello", Tone: "formal"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUpstreamTransient))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rw.calls.Load())

	// the reservation was refunded
	status := f.limiter.RequestStatus(context.Background(), "u1", map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 10})
	assert.Zero(t, status[ratelimit.WindowMinute].Current)
}

// brokenStore fails every call.
type brokenStore struct{}

var errBroken = errors.New("disk on fire")

func (brokenStore) Get(context.Context, string) (string, bool, error)  { return "", false, errBroken }
func (brokenStore) Set(context.Context, string, string) error          { return errBroken }
func (brokenStore) Remove(context.Context, string) error               { return errBroken }
func (brokenStore) ListKeys(context.Context, string) ([]string, error) { return nil, errBroken }
func (brokenStore) Close() error                                       { return nil }

func TestConvert_StorageFailuresAreAbsorbed(t *testing.T) {
	var s brokenStore
	tones, err := tone.NewRegistry(nil, 100)
	require.NoError(t, err)

	c := New(&scriptedRewriter{usage: 10}, tones,
		WithGate(gate.New(s, 5)),
		WithLimiter(ratelimit.New(s), ratelimit.Quota{Requests: map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: 1}}),
		WithCostMonitor(cost.New(s, nil)),
		WithHistory(history.New(s)),
		WithEstimator(fixedEstimator{}),
	)

	for i := range 3 {
		res, err := c.Convert(context.Background(), Request{UserID: "u1", Text: fmt.Sprintf("msg %d", i), Tone: "friendly"})
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.Tokens)
	}
}

func TestConvert_OptionalCollaborators(t *testing.T) {
	tones, err := tone.NewRegistry(nil, 100)
	require.NoError(t, err)

	c := New(llms.NewSimulatedRewriter(0), tones, WithEstimator(fixedEstimator{}))
	res, err := c.Convert(context.Background(), Request{UserID: "u1", Text: "Thanks for the help!", Tone: "friendly"})
	require.NoError(t, err)
	assert.Equal(t, "Just wanted to say, thanks so much for the help!", res.ConvertedText)
	assert.Positive(t, res.Tokens)
}

func TestUpstreamError(t *testing.T) {
	err := upstreamError(fmt.Errorf("attempt: %w", context.DeadlineExceeded), 4)
	assert.Equal(t, KindUpstreamTransient, err.Kind)
	assert.Equal(t, "upstream timed out after 4 attempts", err.Message)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "upstream_transient: upstream timed out after 4 attempts: attempt: context deadline exceeded", err.Error())
}
