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

// Package config defines the tonetuner configuration tree and its loader.
//
// Configuration is read once at startup. Quota, cost and gate settings are
// immutable for the life of the process; a hot reload only applies the
// logger level.
//
// Example:
//
//	llm:
//	  provider: openai
//	  api_key: ${OPENAI_API_KEY}
//	rate_limit:
//	  enabled: true
//	  requests: {minute: 10, hour: 100, day: 1000}
//	cost:
//	  enabled: true
//	  daily_limit: 50
//	gate:
//	  max_daily_conversions: 999
package config

import (
	"fmt"

	"github.com/kadirpekel/tonetuner/pkg/observability"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig           `yaml:"server,omitempty" json:"server,omitempty"`
	Auth          AuthConfig             `yaml:"auth,omitempty" json:"auth,omitempty"`
	LLM           LLMConfig              `yaml:"llm,omitempty" json:"llm,omitempty"`
	Tones         map[string]*ToneConfig `yaml:"tones,omitempty" json:"tones,omitempty"`
	RateLimit     RateLimitConfig        `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Cost          CostConfig             `yaml:"cost,omitempty" json:"cost,omitempty"`
	Gate          GateConfig             `yaml:"gate,omitempty" json:"gate,omitempty"`
	Retry         RetryConfig            `yaml:"retry,omitempty" json:"retry,omitempty"`
	Store         StoreConfig            `yaml:"store,omitempty" json:"store,omitempty"`
	History       HistoryConfig          `yaml:"history,omitempty" json:"history,omitempty"`
	Logger        LoggerConfig           `yaml:"logger,omitempty" json:"logger,omitempty"`
	Observability observability.Config   `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.LLM.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Cost.SetDefaults()
	c.Gate.SetDefaults()
	c.Retry.SetDefaults()
	c.Store.SetDefaults()
	c.History.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()

	if c.Tones == nil {
		c.Tones = make(map[string]*ToneConfig)
	}
	for _, tone := range c.Tones {
		if tone != nil {
			tone.SetDefaults(c.RateLimit.MaxTokensPerRequest)
		}
	}
}

// Validate checks every section and reports the first failure.
func (c *Config) Validate() error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"server", c.Server.Validate},
		{"auth", c.Auth.Validate},
		{"llm", c.LLM.Validate},
		{"rate_limit", c.RateLimit.Validate},
		{"cost", c.Cost.Validate},
		{"gate", c.Gate.Validate},
		{"retry", c.Retry.Validate},
		{"store", c.Store.Validate},
		{"history", c.History.Validate},
		{"logger", c.Logger.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	for id, tone := range c.Tones {
		if tone == nil {
			return fmt.Errorf("tones.%s: must not be empty", id)
		}
		if err := tone.Validate(); err != nil {
			return fmt.Errorf("tones.%s: %w", id, err)
		}
	}
	return nil
}

// BoolPtr builds the optional switches used by enabled flags.
func BoolPtr(b bool) *bool { return &b }

// on reads an optional switch that is enabled unless set to false.
func on(b *bool) bool { return b == nil || *b }

// ValidationError names the key that failed inside a section.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
