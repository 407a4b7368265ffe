// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

// RateLimitConfig defines per-user sliding-window limits.
//
// Example:
//
//	rate_limit:
//	  enabled: true
//	  requests: {minute: 10, hour: 100, day: 1000}
//	  tokens: {minute: 10000, hour: 100000, day: 1000000}
//	  max_tokens_per_request: 1000
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Requests caps admitted requests per window.
	Requests WindowLimits `yaml:"requests,omitempty" json:"requests,omitempty"`

	// Tokens caps estimated token usage per window.
	Tokens WindowLimits `yaml:"tokens,omitempty" json:"tokens,omitempty"`

	// MaxTokensPerRequest is the default completion budget of a tone.
	// Default: 1000
	MaxTokensPerRequest int `yaml:"max_tokens_per_request,omitempty" json:"max_tokens_per_request,omitempty" jsonschema:"minimum=1"`

	// IPRequestsPerMinute limits unauthenticated API traffic per client IP.
	// Zero disables the IP limiter.
	IPRequestsPerMinute int64 `yaml:"ip_requests_per_minute,omitempty" json:"ip_requests_per_minute,omitempty"`
}

// WindowLimits holds one limit per window. Zero leaves a window unenforced.
type WindowLimits struct {
	Minute int64 `yaml:"minute,omitempty" json:"minute,omitempty"`
	Hour   int64 `yaml:"hour,omitempty" json:"hour,omitempty"`
	Day    int64 `yaml:"day,omitempty" json:"day,omitempty"`
}

// IsEnabled returns true if rate limiting is enabled.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && on(c.Enabled)
}

// SetDefaults sets default values for RateLimitConfig.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Requests == (WindowLimits{}) {
		c.Requests = WindowLimits{Minute: 10, Hour: 100, Day: 1000}
	}
	if c.MaxTokensPerRequest == 0 {
		c.MaxTokensPerRequest = 1000
	}
	if c.Tokens == (WindowLimits{}) {
		per := int64(c.MaxTokensPerRequest)
		c.Tokens = WindowLimits{
			Minute: c.Requests.Minute * per,
			Hour:   c.Requests.Hour * per,
			Day:    c.Requests.Day * per,
		}
	}
}

// Validate validates the RateLimitConfig.
func (c *RateLimitConfig) Validate() error {
	if c.MaxTokensPerRequest < 0 {
		return invalid("max_tokens_per_request", "must be positive")
	}
	if c.IPRequestsPerMinute < 0 {
		return invalid("ip_requests_per_minute", "must be non-negative")
	}
	for name, v := range map[string]int64{
		"requests.minute": c.Requests.Minute,
		"requests.hour":   c.Requests.Hour,
		"requests.day":    c.Requests.Day,
		"tokens.minute":   c.Tokens.Minute,
		"tokens.hour":     c.Tokens.Hour,
		"tokens.day":      c.Tokens.Day,
	} {
		if v < 0 {
			return invalid(name, "must be non-negative, got %d", v)
		}
	}
	return nil
}
