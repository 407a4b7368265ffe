// Package gate caps the number of conversions per UTC calendar day.
//
// The counter resets lazily: a stored state from an earlier day is treated
// as zero on read and replaced on the next write.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/store"
)

// DefaultKeyPrefix namespaces gate keys in a shared store.
const DefaultKeyPrefix = "tonetuner_"

// DefaultMaxDailyConversions is used when no limit is configured.
const DefaultMaxDailyConversions = 999

// ErrInvalidScope is returned for an empty scope.
var ErrInvalidScope = errors.New("gate scope cannot be empty")

// ErrLimitReached is returned by Reserve when today's allowance, including
// conversions still in flight, is used up.
var ErrLimitReached = errors.New("daily conversion limit reached")

// State is the persisted gate state for one scope.
type State struct {
	DailyConversionCount int    `json:"dailyConversionCount"`
	LastConversionDate   string `json:"lastConversionDate,omitempty"`
	MaxDailyConversions  int    `json:"maxDailyConversions"`
}

// Remaining returns how many conversions are left today.
func (s State) Remaining() int {
	return max(0, s.MaxDailyConversions-s.DailyConversionCount)
}

// Gate tracks daily conversions per scope. A scope is an installation id
// for the CLI or a user id for the server.
type Gate struct {
	store  store.Store
	clock  clock.Clock
	prefix string
	max    int

	mu      sync.Mutex
	pending map[string]int
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		g.clock = c
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(g *Gate) {
		g.prefix = prefix
	}
}

// New creates a Gate allowing maxDaily conversions per scope and day. A
// negative value is treated as zero; zero blocks every conversion.
func New(s store.Store, maxDaily int, opts ...Option) *Gate {
	g := &Gate{
		store:   s,
		clock:   clock.Default,
		prefix:  DefaultKeyPrefix,
		max:     max(0, maxDaily),
		pending: make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Max returns the daily allowance.
func (g *Gate) Max() int {
	return g.max
}

// CanConvert reports whether scope may convert today.
func (g *Gate) CanConvert(ctx context.Context, scope string) (bool, error) {
	st, err := g.State(ctx, scope)
	if err != nil {
		return false, err
	}
	return st.DailyConversionCount < st.MaxDailyConversions, nil
}

// Reservation holds one slot of today's allowance until it is committed or
// released. Exactly one of Commit or Release takes effect.
type Reservation struct {
	gate  *Gate
	scope string
	once  sync.Once
}

// Reserve claims a slot for scope. Slots held by reservations that are
// neither committed nor released count against the allowance, so
// concurrent callers cannot overshoot it.
func (g *Gate) Reserve(ctx context.Context, scope string) (*Reservation, error) {
	if scope == "" {
		return nil, ErrInvalidScope
	}
	today := clock.DayKey(g.clock.Now())

	g.mu.Lock()
	defer g.mu.Unlock()

	st, err := g.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	used := 0
	if st.LastConversionDate == today {
		used = st.DailyConversionCount
	}
	if used+g.pending[scope] >= g.max {
		return nil, ErrLimitReached
	}
	g.pending[scope]++
	return &Reservation{gate: g, scope: scope}, nil
}

// Pending returns the number of open reservations for scope.
func (g *Gate) Pending(scope string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[scope]
}

// Commit turns the slot into a recorded conversion. A second call, or a
// call after Release, is a no-op returning a zero State.
func (r *Reservation) Commit(ctx context.Context) (State, error) {
	var (
		st  State
		err error
	)
	r.once.Do(func() {
		r.gate.mu.Lock()
		defer r.gate.mu.Unlock()
		r.gate.unpend(r.scope)
		st, err = r.gate.increment(ctx, r.scope)
	})
	return st, err
}

// Release gives the slot back without recording a conversion.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.gate.mu.Lock()
		defer r.gate.mu.Unlock()
		r.gate.unpend(r.scope)
	})
}

func (g *Gate) unpend(scope string) {
	if g.pending[scope] <= 1 {
		delete(g.pending, scope)
		return
	}
	g.pending[scope]--
}

// Increment records one conversion for today and returns the new state.
func (g *Gate) Increment(ctx context.Context, scope string) (State, error) {
	if scope == "" {
		return State{}, ErrInvalidScope
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.increment(ctx, scope)
}

// increment must be called with g.mu held.
func (g *Gate) increment(ctx context.Context, scope string) (State, error) {
	today := clock.DayKey(g.clock.Now())

	st, err := g.load(ctx, scope)
	if err != nil {
		return State{}, err
	}
	if st.LastConversionDate == today {
		st.DailyConversionCount++
	} else {
		st.DailyConversionCount = 1
	}
	st.LastConversionDate = today
	st.MaxDailyConversions = g.max

	if err := g.save(ctx, scope, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// CheckAndResetIfNewDay zeroes the stored count when the day changed. It
// reports whether a reset was written; calling it again the same day is a
// no-op.
func (g *Gate) CheckAndResetIfNewDay(ctx context.Context, scope string) (bool, error) {
	if scope == "" {
		return false, ErrInvalidScope
	}
	today := clock.DayKey(g.clock.Now())

	g.mu.Lock()
	defer g.mu.Unlock()

	st, err := g.load(ctx, scope)
	if err != nil {
		return false, err
	}
	if st.LastConversionDate == today {
		return false, nil
	}

	st = State{LastConversionDate: today, MaxDailyConversions: g.max}
	if err := g.save(ctx, scope, st); err != nil {
		return false, err
	}
	slog.Debug("Daily conversion count reset", "scope", scope, "date", today)
	return true, nil
}

// State returns today's view of scope. A state stored on an earlier day
// reads as a zero count.
func (g *Gate) State(ctx context.Context, scope string) (State, error) {
	if scope == "" {
		return State{}, ErrInvalidScope
	}
	today := clock.DayKey(g.clock.Now())

	g.mu.Lock()
	st, err := g.load(ctx, scope)
	g.mu.Unlock()
	if err != nil {
		return State{}, err
	}

	if st.LastConversionDate != today {
		st.DailyConversionCount = 0
	}
	st.MaxDailyConversions = g.max
	return st, nil
}

// Reset removes the stored state of scope.
func (g *Gate) Reset(ctx context.Context, scope string) error {
	if scope == "" {
		return ErrInvalidScope
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Remove(ctx, g.key(scope)); err != nil {
		return fmt.Errorf("failed to reset gate: %w", err)
	}
	return nil
}

func (g *Gate) key(scope string) string {
	return g.prefix + "gate_state:" + scope
}

func (g *Gate) load(ctx context.Context, scope string) (State, error) {
	raw, ok, err := g.store.Get(ctx, g.key(scope))
	if err != nil {
		return State{}, fmt.Errorf("failed to read gate state: %w", err)
	}
	if !ok || raw == "" {
		return State{MaxDailyConversions: g.max}, nil
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("corrupt gate state: %w", err)
	}
	return st, nil
}

func (g *Gate) save(ctx context.Context, scope string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, g.key(scope), string(data)); err != nil {
		return fmt.Errorf("failed to write gate state: %w", err)
	}
	return nil
}
