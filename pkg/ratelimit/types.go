package ratelimit

import (
	"math"
	"time"
)

// TimeWindow represents a rate limiting time window
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
)

// Windows lists the supported windows from shortest to longest.
var Windows = []TimeWindow{WindowMinute, WindowHour, WindowDay}

// Duration returns the duration for the time window
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// ParseTimeWindow converts a config string to a TimeWindow.
func ParseTimeWindow(s string) (TimeWindow, error) {
	switch w := TimeWindow(s); w {
	case WindowMinute, WindowHour, WindowDay:
		return w, nil
	default:
		return "", badArgument("window", "%q is not minute, hour or day", s)
	}
}

// LimitType represents the type of rate limit
type LimitType string

const (
	LimitTypeCount LimitType = "count" // Request count limit
	LimitTypeToken LimitType = "token" // Token usage limit
)

// keySegment is the store namespace for the limit type.
func (t LimitType) keySegment() string {
	if t == LimitTypeToken {
		return "token_limit"
	}
	return "rate_limit"
}

// TokenUsageRecord is one admitted token charge. Request buckets store bare
// epoch-ms timestamps instead.
type TokenUsageRecord struct {
	Timestamp int64 `json:"timestamp"`
	Tokens    int64 `json:"tokens"`
}

// Result is the outcome of a single (user, window) check.
// It is computed per call and never persisted.
type Result struct {
	Allowed   bool       `json:"allowed"`
	LimitType LimitType  `json:"limit_type"`
	Window    TimeWindow `json:"window"`
	Limit     int64      `json:"limit"`
	Remaining int64      `json:"remaining"`
	ResetTime time.Time  `json:"reset_time"`

	// RetryAfterSeconds is set on denial.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`

	// FailOpen marks a result admitted because the store could not be read.
	FailOpen bool `json:"fail_open,omitempty"`

	// Oversized marks a charge larger than the whole limit. Waiting does
	// not help, so RetryAfterSeconds stays zero.
	Oversized bool `json:"oversized,omitempty"`
}

// ResetTimeMillis returns ResetTime as epoch milliseconds.
func (r *Result) ResetTimeMillis() int64 {
	return r.ResetTime.UnixMilli()
}

// Quota is the set of limits enforced by Admit. A zero or negative limit
// leaves that window unenforced.
type Quota struct {
	Requests map[TimeWindow]int64
	Tokens   map[TimeWindow]int64
}

// Decision aggregates the per-window results of Admit.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Results []Result `json:"results"`

	// Denied is the blocking result with the longest wait, nil when allowed.
	Denied *Result `json:"denied,omitempty"`

	charges []charge
}

// charge is one record appended by Admit, kept so it can be refunded.
type charge struct {
	key       string
	limitType LimitType
	record    usageRecord
}

// Oversized returns the first result whose charge can never fit, or nil.
func (d *Decision) Oversized() *Result {
	if d == nil {
		return nil
	}
	for i := range d.Results {
		if d.Results[i].Oversized {
			return &d.Results[i]
		}
	}
	return nil
}

// RetryAfterSeconds returns the wait suggested by the blocking window.
func (d *Decision) RetryAfterSeconds() int64 {
	if d == nil || d.Denied == nil {
		return 0
	}
	return d.Denied.RetryAfterSeconds
}

// Get returns the result for a limit type and window.
func (d *Decision) Get(limitType LimitType, window TimeWindow) *Result {
	for i := range d.Results {
		if d.Results[i].LimitType == limitType && d.Results[i].Window == window {
			return &d.Results[i]
		}
	}
	return nil
}

// WindowStatus is the current usage of one window.
type WindowStatus struct {
	Current   int64 `json:"current"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Status reports usage per window.
type Status map[TimeWindow]WindowStatus

// retryAfterSeconds rounds the wait until reset up to whole seconds.
func retryAfterSeconds(reset, now time.Time) int64 {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(d.Milliseconds()) / 1000))
}
