package config

// CostConfig controls the cost monitor.
//
// Example:
//
//	cost:
//	  enabled: true
//	  price_per_thousand_tokens: 0.00015
//	  alert_threshold: 10
//	  daily_limit: 50
//	  monthly_limit: 500
//	  alerts:
//	    desktop: true
//	    webhook_url: https://hooks.example.com/cost
type CostConfig struct {
	// Enabled turns cost recording on. When false RecordUsage is a no-op.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// PricePerThousandTokens converts tokens to USD.
	// Default: 0.00015
	PricePerThousandTokens float64 `yaml:"price_per_thousand_tokens,omitempty" json:"price_per_thousand_tokens,omitempty"`

	// AlertThreshold raises a warning alert once today's cost reaches it.
	// Default: 10
	AlertThreshold float64 `yaml:"alert_threshold,omitempty" json:"alert_threshold,omitempty"`

	// DailyLimit raises a limit alert once today's cost reaches it.
	// Default: 50
	DailyLimit float64 `yaml:"daily_limit,omitempty" json:"daily_limit,omitempty"`

	// MonthlyLimit raises a limit alert once the month-to-date cost reaches it.
	// Default: 500
	MonthlyLimit float64 `yaml:"monthly_limit,omitempty" json:"monthly_limit,omitempty"`

	// RetentionDays is how long daily entries are kept.
	// Default: 30
	RetentionDays int `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`

	// Alerts selects alert delivery channels. Logging is always on.
	Alerts AlertsConfig `yaml:"alerts,omitempty" json:"alerts,omitempty"`
}

// AlertsConfig selects where cost alerts are delivered.
type AlertsConfig struct {
	Desktop    bool   `yaml:"desktop,omitempty" json:"desktop,omitempty"`
	WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
}

// IsEnabled reports whether cost monitoring is on.
func (c *CostConfig) IsEnabled() bool {
	return c != nil && on(c.Enabled)
}

// SetDefaults applies default values to CostConfig.
func (c *CostConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.PricePerThousandTokens == 0 {
		c.PricePerThousandTokens = 0.00015
	}
	if c.AlertThreshold == 0 {
		c.AlertThreshold = 10
	}
	if c.DailyLimit == 0 {
		c.DailyLimit = 50
	}
	if c.MonthlyLimit == 0 {
		c.MonthlyLimit = 500
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
}

// Validate checks the cost configuration.
func (c *CostConfig) Validate() error {
	if c.PricePerThousandTokens < 0 {
		return invalid("price_per_thousand_tokens", "must be non-negative")
	}
	if c.AlertThreshold < 0 || c.DailyLimit < 0 || c.MonthlyLimit < 0 {
		return invalid("limits", "alert_threshold, daily_limit and monthly_limit must be non-negative")
	}
	if c.RetentionDays < 1 {
		return invalid("retention_days", "must be at least 1")
	}
	return nil
}

// GateConfig bounds conversions per calendar day.
type GateConfig struct {
	// MaxDailyConversions is the per-scope daily allowance.
	// Default: 999
	MaxDailyConversions int `yaml:"max_daily_conversions,omitempty" json:"max_daily_conversions,omitempty"`
}

// SetDefaults applies default values to GateConfig.
func (c *GateConfig) SetDefaults() {
	if c.MaxDailyConversions == 0 {
		c.MaxDailyConversions = 999
	}
}

// Validate checks the gate configuration.
func (c *GateConfig) Validate() error {
	if c.MaxDailyConversions < 0 {
		return invalid("max_daily_conversions", "must be non-negative")
	}
	return nil
}

// HistoryConfig controls the per-user conversion history.
type HistoryConfig struct {
	// Enabled keeps recent conversions.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// MaxEntries caps the history length per user.
	// Default: 50
	MaxEntries int `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
}

// IsEnabled reports whether history is kept.
func (c *HistoryConfig) IsEnabled() bool {
	return c != nil && on(c.Enabled)
}

// SetDefaults applies default values to HistoryConfig.
func (c *HistoryConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 50
	}
}

// Validate checks the history configuration.
func (c *HistoryConfig) Validate() error {
	if c.MaxEntries < 1 {
		return invalid("max_entries", "must be at least 1")
	}
	return nil
}
