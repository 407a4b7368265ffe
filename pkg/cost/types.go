// Package cost accumulates token spend per UTC calendar day and raises
// alerts when configured limits are reached.
//
// All days live in a single store value, a JSON object keyed by
// YYYY-MM-DD, under "<prefix>daily_costs". Monthly figures are derived from
// the daily entries and are never persisted.
package cost

import "time"

// DailyCost is the spend recorded for one calendar day. For monthly
// aggregates Date holds YYYY-MM.
type DailyCost struct {
	Date         string  `json:"date"`
	TotalTokens  int64   `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
	RequestCount int64   `json:"requestCount"`
}

func (d *DailyCost) add(o DailyCost) {
	d.TotalTokens += o.TotalTokens
	d.TotalCost += o.TotalCost
	d.RequestCount += o.RequestCount
}

// Stats summarises every retained day.
type Stats struct {
	Today         *DailyCost `json:"today"`
	ThisMonth     DailyCost  `json:"this_month"`
	TotalRequests int64      `json:"total_requests"`
	TotalTokens   int64      `json:"total_tokens"`
	TotalCost     float64    `json:"total_cost"`
}

// AlertKind identifies which limit was reached.
type AlertKind string

const (
	AlertDailyLimit   AlertKind = "daily_limit"
	AlertThreshold    AlertKind = "threshold"
	AlertMonthlyLimit AlertKind = "monthly_limit"
)

// Alert reports that spend reached a configured limit.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Current float64   `json:"current"`
	Limit   float64   `json:"limit"`
	Period  string    `json:"period"`
	UserID  string    `json:"user_id,omitempty"`
	Time    time.Time `json:"time"`
}

// Title is a short human-readable label for the alert.
func (a Alert) Title() string {
	switch a.Kind {
	case AlertDailyLimit:
		return "Daily cost limit reached"
	case AlertMonthlyLimit:
		return "Monthly cost limit reached"
	default:
		return "Cost alert threshold reached"
	}
}
