// Package converter orchestrates one tone conversion: input validation,
// the daily gate, rate limiting, the upstream rewrite with retries, and
// usage accounting once the rewrite succeeded.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/cost"
	"github.com/kadirpekel/tonetuner/pkg/gate"
	"github.com/kadirpekel/tonetuner/pkg/history"
	"github.com/kadirpekel/tonetuner/pkg/httpclient"
	"github.com/kadirpekel/tonetuner/pkg/llms"
	"github.com/kadirpekel/tonetuner/pkg/observability"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
	"github.com/kadirpekel/tonetuner/pkg/tone"
	"github.com/kadirpekel/tonetuner/pkg/utils"
)

// Request is one conversion request. UserID scopes the gate, the rate
// limits and the history.
type Request struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Tone   string `json:"tone"`
}

// Result is a completed conversion.
type Result struct {
	ID               string    `json:"id"`
	OriginalText     string    `json:"originalText"`
	ConvertedText    string    `json:"convertedText"`
	Tone             string    `json:"tone"`
	Timestamp        time.Time `json:"timestamp"`
	WordCount        int       `json:"wordCount"`
	ProcessingTimeMs int64     `json:"processingTime"`
	Tokens           int64     `json:"tokens"`
	TokensEstimated  bool      `json:"tokensEstimated,omitempty"`
	Attempts         int       `json:"attempts"`
	Model            string    `json:"model,omitempty"`
}

// Gate is the daily conversion allowance. Reserve returns
// gate.ErrLimitReached once the allowance is used up.
type Gate interface {
	Reserve(ctx context.Context, scope string) (*gate.Reservation, error)
	Increment(ctx context.Context, scope string) (gate.State, error)
}

// Limiter admits requests against sliding windows.
type Limiter interface {
	Admit(ctx context.Context, userID string, quota ratelimit.Quota, tokens int64) (*ratelimit.Decision, error)
	Refund(ctx context.Context, d *ratelimit.Decision) error
}

// CostRecorder accumulates spend.
type CostRecorder interface {
	RecordUsage(ctx context.Context, tokens int64, userID string) (*cost.DailyCost, error)
	Cost(tokens int64) float64
	Enabled() bool
}

// HistoryRecorder keeps recent conversions.
type HistoryRecorder interface {
	Add(ctx context.Context, userID string, e history.Entry) error
}

// TokenEstimator counts tokens locally.
type TokenEstimator interface {
	EstimateRequest(systemPrompt, text string, maxCompletion int) int64
	Count(text string) int
}

// Converter runs conversions. Only the rewriter and the tone registry are
// required; every other collaborator is optional.
type Converter struct {
	rewriter  llms.Rewriter
	tones     *tone.Registry
	gate      Gate
	limiter   Limiter
	quota     ratelimit.Quota
	cost      CostRecorder
	history   HistoryRecorder
	estimator TokenEstimator
	clock     clock.Clock
	tracer    *observability.Tracer
	metrics   observability.Metrics

	retry          httpclient.RetryPolicy
	attemptTimeout time.Duration
	maxInputChars  int
	model          string
}

// Option configures a Converter.
type Option func(*Converter)

// WithGate enables the daily conversion gate.
func WithGate(g Gate) Option {
	return func(c *Converter) {
		c.gate = g
	}
}

// WithLimiter enables rate limiting against quota.
func WithLimiter(l Limiter, quota ratelimit.Quota) Option {
	return func(c *Converter) {
		c.limiter = l
		c.quota = quota
	}
}

// WithCostMonitor records usage after each success.
func WithCostMonitor(m CostRecorder) Option {
	return func(c *Converter) {
		c.cost = m
	}
}

// WithHistory appends each success to the user's history.
func WithHistory(h HistoryRecorder) Option {
	return func(c *Converter) {
		c.history = h
	}
}

// WithEstimator overrides the token estimator.
func WithEstimator(e TokenEstimator) Option {
	return func(c *Converter) {
		c.estimator = e
	}
}

// WithClock overrides the time source for result timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Converter) {
		c.clock = clk
	}
}

// WithRetryPolicy overrides the upstream retry policy.
func WithRetryPolicy(p httpclient.RetryPolicy) Option {
	return func(c *Converter) {
		c.retry = p
	}
}

// WithAttemptTimeout bounds each upstream attempt. Zero disables it.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Converter) {
		c.attemptTimeout = d
	}
}

// WithMaxInputChars rejects longer input. Zero disables the check.
func WithMaxInputChars(n int) Option {
	return func(c *Converter) {
		c.maxInputChars = n
	}
}

// WithModel names the model for estimates and telemetry.
func WithModel(model string) Option {
	return func(c *Converter) {
		c.model = model
	}
}

// WithObservability attaches a tracer and metrics. Either may be nil.
func WithObservability(t *observability.Tracer, m observability.Metrics) Option {
	return func(c *Converter) {
		c.tracer = t
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a Converter.
func New(rw llms.Rewriter, tones *tone.Registry, opts ...Option) *Converter {
	c := &Converter{
		rewriter: rw,
		tones:    tones,
		clock:    clock.Default,
		metrics:  observability.NoopMetrics{},
		retry: httpclient.RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Multiplier: 2,
		},
		attemptTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.estimator == nil {
		c.estimator = utils.NewEstimator(c.model)
	}
	return c
}

// Convert rewrites req.Text in req.Tone. Counters advance only after the
// upstream returned a rewrite; every failure leaves them as they were.
func (c *Converter) Convert(ctx context.Context, req Request) (result *Result, err error) {
	started := time.Now()
	ctx, span := c.tracer.StartConversion(ctx, req.UserID, req.Tone, utf8.RuneCountInString(req.Text))
	defer span.End()
	defer func() {
		status := "success"
		if err != nil {
			status = string(KindOf(err))
			c.tracer.RecordError(span, err)
		}
		c.metrics.RecordConversion(ctx, req.Tone, status, time.Since(started))
	}()

	text, id, params, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	var slot *gate.Reservation
	if c.gate != nil {
		var gerr error
		slot, gerr = c.gate.Reserve(ctx, req.UserID)
		switch {
		case errors.Is(gerr, gate.ErrLimitReached):
			return nil, &Error{Kind: KindQuotaExceeded, Message: "daily conversion limit reached", Err: gerr}
		case gerr != nil:
			absorb("gate check", req.UserID, gerr)
		}
	}
	defer func() {
		if err != nil && slot != nil {
			slot.Release()
		}
	}()

	estimate := c.estimator.EstimateRequest(params.SystemPrompt, text, params.MaxTokens)

	var decision *ratelimit.Decision
	if c.limiter != nil {
		decision, err = c.limiter.Admit(ctx, req.UserID, c.quota, estimate)
		if err != nil {
			return nil, validationError("invalid rate limit request", err)
		}
		if !decision.Allowed {
			if over := decision.Oversized(); over != nil {
				return nil, validationError(fmt.Sprintf("request needs about %d tokens, more than the %s limit of %d",
					estimate, over.Window, over.Limit), nil)
			}
			denied := decision.Denied
			c.metrics.RecordRateLimitDenial(ctx, string(denied.Window), string(denied.LimitType))
			return nil, &Error{
				Kind:              KindRateLimited,
				Message:           "rate limit exceeded",
				RetryAfterSeconds: decision.RetryAfterSeconds(),
				Err:               &ratelimit.DeniedError{Result: denied},
			}
		}
	}

	resp, attempts, err := c.rewrite(ctx, llms.Request{
		Tone:         string(id),
		SystemPrompt: params.SystemPrompt,
		Text:         text,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	})
	if err != nil {
		if c.limiter != nil {
			// the refund must run even when ctx was cancelled
			if rerr := c.limiter.Refund(context.WithoutCancel(ctx), decision); rerr != nil {
				absorb("rate limit refund", req.UserID, rerr)
			}
		}
		return nil, upstreamError(err, attempts)
	}

	converted := strings.TrimSpace(resp.Text)
	tokens, estimated := int64(resp.TotalTokens), false
	if tokens <= 0 {
		tokens = c.estimator.EstimateRequest(params.SystemPrompt, text, c.estimator.Count(converted))
		estimated = true
	}

	result = &Result{
		ID:              uuid.NewString(),
		OriginalText:    text,
		ConvertedText:   converted,
		Tone:            string(id),
		Timestamp:       c.clock.Now(),
		WordCount:       len(strings.Fields(converted)),
		Tokens:          tokens,
		TokensEstimated: estimated,
		Attempts:        attempts,
		Model:           resp.Model,
	}
	c.account(ctx, req.UserID, slot, result)

	result.ProcessingTimeMs = time.Since(started).Milliseconds()
	slog.Info("Conversion completed",
		"id", result.ID,
		"user", req.UserID,
		"tone", result.Tone,
		"tokens", tokens,
		"attempts", attempts,
		"duration_ms", result.ProcessingTimeMs)
	return result, nil
}

func (c *Converter) validate(req Request) (string, tone.ID, tone.Params, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", "", tone.Params{}, validationError("text cannot be empty", nil)
	}
	if c.maxInputChars > 0 && utf8.RuneCountInString(text) > c.maxInputChars {
		return "", "", tone.Params{}, validationError(fmt.Sprintf("text exceeds %d characters", c.maxInputChars), nil)
	}
	if req.UserID == "" {
		return "", "", tone.Params{}, validationError("user id cannot be empty", nil)
	}

	id, err := tone.Parse(req.Tone)
	if err != nil {
		return "", "", tone.Params{}, validationError("unsupported tone", err)
	}
	params, ok := c.tones.Get(id)
	if !ok {
		return "", "", tone.Params{}, validationError("unsupported tone", &tone.UnknownToneError{Tone: req.Tone})
	}
	return text, id, params, nil
}

// rewrite calls the upstream with per-attempt timeouts and the retry policy.
func (c *Converter) rewrite(ctx context.Context, req llms.Request) (*llms.Response, int, error) {
	var resp *llms.Response
	provider := c.rewriter.Name()

	attempts, err := httpclient.Retry(ctx, c.retry, llms.Retryable, func(ctx context.Context, attempt int) error {
		if c.attemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
			defer cancel()
		}
		ctx, span := c.tracer.StartUpstreamAttempt(ctx, provider, c.model, attempt+1, req.MaxTokens, req.Temperature)
		defer span.End()

		began := time.Now()
		r, err := c.rewriter.Rewrite(ctx, req)
		if err == nil && strings.TrimSpace(r.Text) == "" {
			err = llms.ErrEmptyCompletion
		}
		c.metrics.RecordUpstreamAttempt(ctx, provider, llms.Classify(err).String(), time.Since(began))
		if err != nil {
			c.tracer.RecordError(span, err)
			return err
		}

		c.tracer.AddUsage(span, r.PromptTokens, r.CompletionTokens)
		resp = r
		return nil
	})
	return resp, attempts, err
}

// account records usage after a successful rewrite. Store failures are
// logged and do not fail the conversion. A nil slot means the gate could
// not be read up front, so the conversion is counted directly.
func (c *Converter) account(ctx context.Context, userID string, slot *gate.Reservation, r *Result) {
	if c.cost != nil && c.cost.Enabled() {
		if _, err := c.cost.RecordUsage(ctx, r.Tokens, userID); err != nil {
			absorb("cost record", userID, err)
		}
		c.metrics.RecordUsage(ctx, r.Tokens, c.cost.Cost(r.Tokens))
	}

	switch {
	case slot != nil:
		if _, err := slot.Commit(context.WithoutCancel(ctx)); err != nil {
			absorb("gate increment", userID, err)
		}
	case c.gate != nil:
		if _, err := c.gate.Increment(ctx, userID); err != nil {
			absorb("gate increment", userID, err)
		}
	}

	if c.history != nil {
		entry := history.Entry{
			ID:            r.ID,
			OriginalText:  r.OriginalText,
			ConvertedText: r.ConvertedText,
			Tone:          r.Tone,
			CreatedAt:     r.Timestamp,
		}
		if err := c.history.Add(ctx, userID, entry); err != nil {
			absorb("history append", userID, err)
		}
	}
}

func absorb(op, userID string, err error) {
	slog.Warn("Storage error ignored",
		"op", op,
		"user", userID,
		"error", &Error{Kind: KindStorage, Message: op, Err: err})
}

func upstreamError(err error, attempts int) *Error {
	e := &Error{Attempts: attempts, Err: err}

	switch llms.Classify(err) {
	case llms.ClassAuth:
		e.Kind, e.Message = KindUpstreamAuth, "upstream rejected the credentials"
	case llms.ClassNotFound:
		e.Kind, e.Message = KindUpstreamNotFound, "upstream endpoint or model not found"
	case llms.ClassInvalid:
		e.Kind, e.Message = KindValidation, "upstream rejected the request"
	case llms.ClassCanceled:
		e.Kind, e.Message = KindUpstreamTransient, "conversion canceled"
	case llms.ClassMalformed:
		e.Kind, e.Message = KindUpstreamTransient, "upstream returned an unusable response"
	default:
		e.Kind, e.Message = KindUpstreamTransient, fmt.Sprintf("upstream unavailable after %d attempts", attempts)
		if d := llms.RetryAfter(err); d > 0 {
			e.RetryAfterSeconds = int64(math.Ceil(d.Seconds()))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) && e.Kind == KindUpstreamTransient {
		e.Message = fmt.Sprintf("upstream timed out after %d attempts", attempts)
	}
	return e
}
