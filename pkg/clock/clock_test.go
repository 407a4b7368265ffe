package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	start := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	c.Advance(2 * time.Minute)
	assert.Equal(t, start.Add(2*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestDayKey(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"utc", time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC), "2025-01-31"},
		{"east_of_utc_rolls_back", time.Date(2025, 2, 1, 3, 0, 0, 0, time.FixedZone("KST", 9*3600)), "2025-01-31"},
		{"west_of_utc_rolls_forward", time.Date(2025, 1, 31, 20, 0, 0, 0, time.FixedZone("PST", -8*3600)), "2025-02-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DayKey(tt.in))
		})
	}
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2025-12", MonthKey(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)))
}

func TestNewManualMillis(t *testing.T) {
	c := NewManualMillis(60_000)
	assert.Equal(t, int64(60_000), c.Now().UnixMilli())
}
