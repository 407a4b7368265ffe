package httpclient

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// RetryPolicy is a capped exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Sleep waits between attempts. It must return early with ctx.Err()
	// when ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// PolicyFromConfig converts the retry section of the config.
func PolicyFromConfig(c *config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.Retries(),
		BaseDelay:  c.BaseDelay,
		MaxDelay:   c.MaxDelay,
		Multiplier: c.BackoffMultiplier,
	}
}

// Delay returns the wait before retry number attempt (0 based):
// BaseDelay * Multiplier^attempt, raised to retryAfter when the upstream
// asked for longer, and capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	if d < 0 || math.IsInf(float64(d), 0) {
		d = p.MaxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether an attempt error may be retried and, if the
// upstream said so, how long to wait at least.
type Retryable func(err error) (retry bool, retryAfter time.Duration)

// Retry calls fn until it succeeds, returns a non-retryable error, the
// retry budget is spent, or ctx is done. It returns the number of attempts
// made and the last error.
func Retry(ctx context.Context, p RetryPolicy, retryable Retryable, fn func(ctx context.Context, attempt int) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		err := fn(ctx, attempts)
		attempts++
		if err == nil {
			return attempts, nil
		}

		retry, retryAfter := retryable(err)
		if !retry || attempts > p.MaxRetries {
			return attempts, err
		}
		// A cancelled caller surfaces as an attempt error too.
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}

		delay := p.Delay(attempts-1, retryAfter)
		slog.Warn("Upstream attempt failed, retrying",
			"attempt", attempts, "max_retries", p.MaxRetries, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return attempts, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
