package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/store"
)

// DefaultKeyPrefix namespaces limiter keys in a shared store.
const DefaultKeyPrefix = "tonetuner_"

// Limiter enforces sliding-window limits over a store.Store.
type Limiter struct {
	store  store.Store
	clock  clock.Clock
	prefix string
	locks  *keyLock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// New creates a Limiter backed by s.
func New(s store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  s,
		clock:  clock.Default,
		prefix: DefaultKeyPrefix,
		locks:  newKeyLock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// usageRecord is the in-memory form of both record kinds. Amount is 1 for
// request records.
type usageRecord struct {
	ts     int64
	amount int64
}

// bucket is one (limit type, user, window) slot being evaluated.
type bucket struct {
	key       string
	limitType LimitType
	window    TimeWindow
	limit     int64
	amount    int64
	records   []usageRecord
	readErr   error
}

// CheckLimit admits one request against limit within window.
func (l *Limiter) CheckLimit(ctx context.Context, userID string, window TimeWindow, limit int64) (*Result, error) {
	if err := validate(userID, window, limit); err != nil {
		return nil, err
	}
	decision := l.admit(ctx, []*bucket{l.newBucket(LimitTypeCount, userID, window, limit, 1)})
	return &decision.Results[0], nil
}

// CheckTokenLimit admits tokens against limit within window.
func (l *Limiter) CheckTokenLimit(ctx context.Context, userID string, window TimeWindow, tokens, limit int64) (*Result, error) {
	if err := validate(userID, window, limit); err != nil {
		return nil, err
	}
	if tokens < 0 {
		return nil, badArgument("tokens", "must be non-negative")
	}
	decision := l.admit(ctx, []*bucket{l.newBucket(LimitTypeToken, userID, window, limit, tokens)})
	return &decision.Results[0], nil
}

// Admit checks one request and tokens against every window in quota.
// Records are appended only when every window admits, so a denial leaves
// all buckets untouched.
func (l *Limiter) Admit(ctx context.Context, userID string, quota Quota, tokens int64) (*Decision, error) {
	if userID == "" {
		return nil, ErrInvalidIdentifier
	}
	if tokens < 0 {
		return nil, badArgument("tokens", "must be non-negative")
	}

	var buckets []*bucket
	for _, w := range Windows {
		if limit := quota.Requests[w]; limit > 0 {
			buckets = append(buckets, l.newBucket(LimitTypeCount, userID, w, limit, 1))
		}
		if limit := quota.Tokens[w]; limit > 0 {
			buckets = append(buckets, l.newBucket(LimitTypeToken, userID, w, limit, tokens))
		}
	}
	if len(buckets) == 0 {
		return &Decision{Allowed: true}, nil
	}
	return l.admit(ctx, buckets), nil
}

func (l *Limiter) admit(ctx context.Context, buckets []*bucket) *Decision {
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = b.key
	}
	unlock := l.locks.Lock(keys...)
	defer unlock()

	now := l.clock.Now()
	decision := &Decision{Allowed: true, Results: make([]Result, 0, len(buckets))}

	for _, b := range buckets {
		b.records, b.readErr = l.load(ctx, b.key, b.limitType)
		if b.readErr != nil {
			slog.Warn("Rate limit store read failed, failing open",
				"key", b.key, "error", b.readErr)
		}
		b.records = prune(b.records, now.UnixMilli(), b.window.Duration())

		result := evaluate(b, now)
		decision.Results = append(decision.Results, result)
		if !result.Allowed {
			decision.Allowed = false
		}
	}

	if !decision.Allowed {
		for i := range decision.Results {
			r := &decision.Results[i]
			if r.Allowed {
				continue
			}
			if decision.Denied == nil || r.RetryAfterSeconds > decision.Denied.RetryAfterSeconds {
				decision.Denied = r
			}
		}
		slog.Debug("Rate limit denied",
			"key", keys[0], "window", decision.Denied.Window,
			"type", decision.Denied.LimitType, "retry_after", decision.Denied.RetryAfterSeconds)
		return decision
	}

	for _, b := range buckets {
		if b.readErr != nil {
			continue
		}
		rec := usageRecord{ts: now.UnixMilli(), amount: b.amount}
		b.records = append(b.records, rec)
		if err := l.save(ctx, b.key, b.limitType, b.records); err != nil {
			slog.Warn("Rate limit store write failed", "key", b.key, "error", err)
			continue
		}
		decision.charges = append(decision.charges, charge{key: b.key, limitType: b.limitType, record: rec})
	}
	return decision
}

// Refund removes the records an admitted Decision appended. It is used when
// the admitted work failed and must not count against the user. Records
// that have already been pruned are ignored.
func (l *Limiter) Refund(ctx context.Context, d *Decision) error {
	if d == nil || !d.Allowed || len(d.charges) == 0 {
		return nil
	}

	keys := make([]string, len(d.charges))
	for i, c := range d.charges {
		keys[i] = c.key
	}
	unlock := l.locks.Lock(keys...)
	defer unlock()

	for _, c := range d.charges {
		records, err := l.load(ctx, c.key, c.limitType)
		if err != nil {
			return fmt.Errorf("failed to refund %s: %w", c.key, err)
		}
		for i := len(records) - 1; i >= 0; i-- {
			if records[i] == c.record {
				records = append(records[:i], records[i+1:]...)
				if err := l.save(ctx, c.key, c.limitType, records); err != nil {
					return fmt.Errorf("failed to refund %s: %w", c.key, err)
				}
				break
			}
		}
	}
	d.charges = nil
	return nil
}

// evaluate applies the limit to pruned records without mutating them.
func evaluate(b *bucket, now time.Time) Result {
	window := b.window.Duration()
	result := Result{
		LimitType: b.limitType,
		Window:    b.window,
		Limit:     b.limit,
	}

	if b.readErr != nil {
		result.Allowed = true
		result.FailOpen = true
		result.Remaining = max(0, b.limit-b.amount)
		result.ResetTime = now.Add(window)
		return result
	}

	var used int64
	for _, r := range b.records {
		used += r.amount
	}

	if used+b.amount > b.limit {
		result.Remaining = max(0, b.limit-used)
		if b.amount > b.limit {
			// a single charge larger than the whole budget never fits
			result.Oversized = true
			result.ResetTime = now
			return result
		}
		result.ResetTime = time.UnixMilli(oldest(b.records)).Add(window)
		result.RetryAfterSeconds = retryAfterSeconds(result.ResetTime, now)
		return result
	}

	result.Allowed = true
	result.Remaining = b.limit - (used + b.amount)
	result.ResetTime = now.Add(window)
	return result
}

// prune keeps records with now-ts < window.
func prune(records []usageRecord, nowMs int64, window time.Duration) []usageRecord {
	windowMs := window.Milliseconds()
	kept := records[:0]
	for _, r := range records {
		if nowMs-r.ts < windowMs {
			kept = append(kept, r)
		}
	}
	return kept
}

func oldest(records []usageRecord) int64 {
	ts := records[0].ts
	for _, r := range records[1:] {
		if r.ts < ts {
			ts = r.ts
		}
	}
	return ts
}

// RequestStatus reports request usage per window without recording anything.
func (l *Limiter) RequestStatus(ctx context.Context, userID string, limits map[TimeWindow]int64) Status {
	return l.status(ctx, LimitTypeCount, userID, limits)
}

// TokenStatus reports token usage per window without recording anything.
func (l *Limiter) TokenStatus(ctx context.Context, userID string, limits map[TimeWindow]int64) Status {
	return l.status(ctx, LimitTypeToken, userID, limits)
}

func (l *Limiter) status(ctx context.Context, t LimitType, userID string, limits map[TimeWindow]int64) Status {
	now := l.clock.Now().UnixMilli()
	status := make(Status, len(Windows))

	for _, w := range Windows {
		ws := WindowStatus{Limit: limits[w]}
		records, err := l.load(ctx, l.key(t, userID, w), t)
		if err != nil {
			slog.Warn("Failed to read usage status", "user", userID, "window", w, "error", err)
		}
		for _, r := range prune(records, now, w.Duration()) {
			ws.Current += r.amount
		}
		ws.Remaining = max(0, ws.Limit-ws.Current)
		status[w] = ws
	}
	return status
}

// Reset removes every bucket belonging to userID.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	for _, t := range []LimitType{LimitTypeCount, LimitTypeToken} {
		for _, w := range Windows {
			key := l.key(t, userID, w)
			unlock := l.locks.Lock(key)
			err := l.store.Remove(ctx, key)
			unlock()
			if err != nil {
				return fmt.Errorf("failed to reset %s: %w", key, err)
			}
		}
	}
	return nil
}

// Sweep removes buckets whose records have all expired. It returns the
// number of keys removed. Unreadable buckets are left alone.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, t := range []LimitType{LimitTypeCount, LimitTypeToken} {
		keys, err := l.store.ListKeys(ctx, l.prefix+t.keySegment()+":")
		if err != nil {
			return removed, fmt.Errorf("failed to list %s keys: %w", t, err)
		}
		for _, key := range keys {
			window, ok := windowFromKey(key)
			if !ok {
				continue
			}
			ok, err := l.sweepKey(ctx, key, t, window)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}
	}
	return removed, nil
}

func (l *Limiter) sweepKey(ctx context.Context, key string, t LimitType, window TimeWindow) (bool, error) {
	unlock := l.locks.Lock(key)
	defer unlock()

	records, err := l.load(ctx, key, t)
	if err != nil {
		return false, nil
	}
	if len(prune(records, l.clock.Now().UnixMilli(), window.Duration())) > 0 {
		return false, nil
	}
	if err := l.store.Remove(ctx, key); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return true, nil
}

func windowFromKey(key string) (TimeWindow, bool) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return "", false
	}
	w, err := ParseTimeWindow(key[idx+1:])
	return w, err == nil
}

func (l *Limiter) newBucket(t LimitType, userID string, w TimeWindow, limit, amount int64) *bucket {
	return &bucket{
		key:       l.key(t, userID, w),
		limitType: t,
		window:    w,
		limit:     limit,
		amount:    amount,
	}
}

func (l *Limiter) key(t LimitType, userID string, w TimeWindow) string {
	return l.prefix + t.keySegment() + ":" + userID + ":" + string(w)
}

// load reads and decodes a bucket. A missing key is an empty bucket.
func (l *Limiter) load(ctx context.Context, key string, t LimitType) ([]usageRecord, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}

	if t == LimitTypeToken {
		var stored []TokenUsageRecord
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return nil, fmt.Errorf("corrupt token bucket: %w", err)
		}
		records := make([]usageRecord, len(stored))
		for i, s := range stored {
			records[i] = usageRecord{ts: s.Timestamp, amount: s.Tokens}
		}
		return records, nil
	}

	var stored []int64
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("corrupt request bucket: %w", err)
	}
	records := make([]usageRecord, len(stored))
	for i, ts := range stored {
		records[i] = usageRecord{ts: ts, amount: 1}
	}
	return records, nil
}

func (l *Limiter) save(ctx context.Context, key string, t LimitType, records []usageRecord) error {
	var (
		data []byte
		err  error
	)
	if t == LimitTypeToken {
		stored := make([]TokenUsageRecord, len(records))
		for i, r := range records {
			stored[i] = TokenUsageRecord{Timestamp: r.ts, Tokens: r.amount}
		}
		data, err = json.Marshal(stored)
	} else {
		stored := make([]int64, len(records))
		for i, r := range records {
			stored[i] = r.ts
		}
		data, err = json.Marshal(stored)
	}
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, string(data))
}

func validate(userID string, window TimeWindow, limit int64) error {
	if userID == "" {
		return ErrInvalidIdentifier
	}
	if window.Duration() == 0 {
		return badArgument("window", "unknown window %q", window)
	}
	if limit <= 0 {
		return badArgument("limit", "must be positive")
	}
	return nil
}
