package config

import "time"

// RetryConfig controls retries of the upstream rewrite call.
//
// Delay for attempt n is base_delay * backoff_multiplier^n, capped at max_delay.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"minimum=0,default=3"`

	// BaseDelay is the first backoff delay.
	// Default: 500ms
	BaseDelay time.Duration `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`

	// MaxDelay caps every delay, including server supplied Retry-After.
	// Default: 10s
	MaxDelay time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`

	// BackoffMultiplier grows the delay between attempts.
	// Default: 2
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`
}

// IntPtr returns a pointer to the given int value.
func IntPtr(i int) *int {
	return &i
}

// Retries returns the configured retry count.
func (c *RetryConfig) Retries() int {
	if c.MaxRetries == nil {
		return 3
	}
	return *c.MaxRetries
}

// SetDefaults applies default values to RetryConfig.
func (c *RetryConfig) SetDefaults() {
	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(3)
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 2
	}
}

// Validate checks the retry configuration.
func (c *RetryConfig) Validate() error {
	if c.Retries() < 0 {
		return invalid("max_retries", "must be non-negative")
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return invalid("delay", "base_delay and max_delay must be non-negative")
	}
	if c.MaxDelay < c.BaseDelay {
		return invalid("max_delay", "must be at least base_delay (%s)", c.BaseDelay)
	}
	if c.BackoffMultiplier < 1 {
		return invalid("backoff_multiplier", "must be at least 1, got %g", c.BackoffMultiplier)
	}
	return nil
}
