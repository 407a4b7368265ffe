package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/store"
)

// DefaultKeyPrefix namespaces the cost key in a shared store.
const DefaultKeyPrefix = "tonetuner_"

const dailyCostsKey = "daily_costs"

// Monitor records token usage and evaluates cost alerts.
type Monitor struct {
	store  store.Store
	cfg    config.CostConfig
	clock  clock.Clock
	prefix string
	sink   AlertSink

	mu sync.Mutex
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(m *Monitor) {
		m.prefix = prefix
	}
}

// WithAlertSink replaces the default LogSink.
func WithAlertSink(s AlertSink) Option {
	return func(m *Monitor) {
		m.sink = s
	}
}

// New creates a Monitor. A nil cfg uses the defaults.
func New(s store.Store, cfg *config.CostConfig, opts ...Option) *Monitor {
	m := &Monitor{
		store:  s,
		clock:  clock.Default,
		prefix: DefaultKeyPrefix,
		sink:   LogSink{},
	}
	if cfg != nil {
		m.cfg = *cfg
	}
	m.cfg.SetDefaults()

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enabled reports whether RecordUsage records anything.
func (m *Monitor) Enabled() bool {
	return m.cfg.IsEnabled()
}

// Cost converts a token count to USD.
func (m *Monitor) Cost(tokens int64) float64 {
	return float64(tokens) / 1000 * m.cfg.PricePerThousandTokens
}

// RecordUsage adds tokens to today's entry and evaluates alerts. It returns
// the updated entry, or nil when monitoring is disabled.
func (m *Monitor) RecordUsage(ctx context.Context, tokens int64, userID string) (*DailyCost, error) {
	if !m.Enabled() {
		return nil, nil
	}
	if tokens < 0 {
		return nil, fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	now := m.clock.Now()
	today := clock.DayKey(now)
	cost := m.Cost(tokens)

	m.mu.Lock()
	days, err := m.load(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	entry := days[today]
	entry.Date = today
	entry.add(DailyCost{TotalTokens: tokens, TotalCost: cost, RequestCount: 1})
	days[today] = entry

	if err := m.save(ctx, days); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	month := monthTotal(days, clock.MonthKey(now))
	m.mu.Unlock()

	slog.Debug("Recorded usage cost",
		"user", userID,
		"tokens", tokens,
		"cost", cost,
		"day_total", entry.TotalCost)

	m.alert(ctx, m.evaluate(entry, month, userID, now))
	return &entry, nil
}

// evaluate returns the alerts raised by the current totals, in the order
// daily limit, threshold, monthly limit.
func (m *Monitor) evaluate(today, month DailyCost, userID string, now time.Time) []Alert {
	var alerts []Alert
	if m.cfg.DailyLimit > 0 && today.TotalCost >= m.cfg.DailyLimit {
		alerts = append(alerts, Alert{Kind: AlertDailyLimit, Current: today.TotalCost, Limit: m.cfg.DailyLimit, Period: today.Date})
	}
	if m.cfg.AlertThreshold > 0 && today.TotalCost >= m.cfg.AlertThreshold {
		alerts = append(alerts, Alert{Kind: AlertThreshold, Current: today.TotalCost, Limit: m.cfg.AlertThreshold, Period: today.Date})
	}
	if m.cfg.MonthlyLimit > 0 && month.TotalCost >= m.cfg.MonthlyLimit {
		alerts = append(alerts, Alert{Kind: AlertMonthlyLimit, Current: month.TotalCost, Limit: m.cfg.MonthlyLimit, Period: month.Date})
	}
	for i := range alerts {
		alerts[i].UserID = userID
		alerts[i].Time = now
	}
	return alerts
}

func (m *Monitor) alert(ctx context.Context, alerts []Alert) {
	if m.sink == nil {
		return
	}
	for _, a := range alerts {
		if err := m.sink.Notify(ctx, a); err != nil {
			slog.Warn("Failed to deliver cost alert", "kind", a.Kind, "error", err)
		}
	}
}

// DailyCost returns the entry for date (YYYY-MM-DD, empty for today), or
// nil when nothing was recorded that day.
func (m *Monitor) DailyCost(ctx context.Context, date string) (*DailyCost, error) {
	if date == "" {
		date = clock.DayKey(m.clock.Now())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	days, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := days[date]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// MonthlyCost sums the entries of one calendar month. A zero year or month
// means the current one.
func (m *Monitor) MonthlyCost(ctx context.Context, year int, month time.Month) (DailyCost, error) {
	now := m.clock.Now().UTC()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	days, err := m.load(ctx)
	if err != nil {
		return DailyCost{}, err
	}
	return monthTotal(days, fmt.Sprintf("%04d-%02d", year, int(month))), nil
}

// Stats sweeps expired entries and summarises the rest.
func (m *Monitor) Stats(ctx context.Context) (*Stats, error) {
	if _, err := m.Sweep(ctx); err != nil {
		slog.Warn("Cost retention sweep failed", "error", err)
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	days, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{ThisMonth: monthTotal(days, clock.MonthKey(now))}
	if today, ok := days[clock.DayKey(now)]; ok {
		stats.Today = &today
	}
	for _, d := range days {
		stats.TotalRequests += d.RequestCount
		stats.TotalTokens += d.TotalTokens
		stats.TotalCost += d.TotalCost
	}
	return stats, nil
}

// Series returns the last n days ending today, oldest first. Days without
// usage are zero entries.
func (m *Monitor) Series(ctx context.Context, n int) ([]DailyCost, error) {
	if n <= 0 {
		return nil, nil
	}
	now := m.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	days, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	series := make([]DailyCost, n)
	for i := range n {
		date := clock.DayKey(now.AddDate(0, 0, i-n+1))
		entry := days[date]
		entry.Date = date
		series[i] = entry
	}
	return series, nil
}

// Sweep removes entries older than the retention period and returns how
// many were dropped. Running it twice in a row removes nothing the second
// time.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cutoff := clock.DayKey(m.clock.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays))

	m.mu.Lock()
	defer m.mu.Unlock()

	days, err := m.load(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for date := range days {
		// YYYY-MM-DD sorts lexically
		if date < cutoff {
			delete(days, date)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := m.save(ctx, days); err != nil {
		return 0, err
	}
	slog.Debug("Swept expired cost entries", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// Reset discards all recorded costs.
func (m *Monitor) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Remove(ctx, m.key()); err != nil {
		return fmt.Errorf("failed to reset costs: %w", err)
	}
	slog.Info("Cost data reset")
	return nil
}

// Days returns the retained day keys in ascending order.
func (m *Monitor) Days(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	days, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Monitor) key() string {
	return m.prefix + dailyCostsKey
}

func (m *Monitor) load(ctx context.Context) (map[string]DailyCost, error) {
	raw, ok, err := m.store.Get(ctx, m.key())
	if err != nil {
		return nil, fmt.Errorf("failed to read daily costs: %w", err)
	}
	days := make(map[string]DailyCost)
	if !ok || raw == "" {
		return days, nil
	}
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		return nil, fmt.Errorf("corrupt daily costs: %w", err)
	}
	return days, nil
}

func (m *Monitor) save(ctx context.Context, days map[string]DailyCost) error {
	data, err := json.Marshal(days)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.key(), string(data)); err != nil {
		return fmt.Errorf("failed to write daily costs: %w", err)
	}
	return nil
}

func monthTotal(days map[string]DailyCost, month string) DailyCost {
	total := DailyCost{Date: month}
	for date, d := range days {
		if strings.HasPrefix(date, month+"-") {
			total.add(d)
		}
	}
	return total
}
