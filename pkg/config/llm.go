// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "time"

// LLMProvider identifies the rewrite backend.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderGemini    LLMProvider = "gemini"
	LLMProviderSimulated LLMProvider = "simulated"
)

// PlaceholderAPIKey is the value shipped in sample env files.
const PlaceholderAPIKey = "your_openai_api_key_here"

// MinAPIKeyLength rejects keys that are obviously truncated.
const MinAPIKeyLength = 20

// LLMConfig configures the rewrite backend.
type LLMConfig struct {
	// Provider type (openai, gemini, simulated).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Rewrite provider,enum=openai,enum=gemini,enum=simulated,default=openai"`

	// Model name (e.g., "gpt-3.5-turbo", "gemini-2.0-flash").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Timeout bounds a single upstream attempt.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-attempt timeout,default=30s"`

	// MaxInputChars rejects longer input before any quota is consumed.
	MaxInputChars int `yaml:"max_input_chars,omitempty" json:"max_input_chars,omitempty" jsonschema:"title=Max Input Characters,minimum=1,default=5000"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = providerFromEnv()
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.Model = "gpt-3.5-turbo"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		case LLMProviderSimulated:
			c.Model = "simulated"
		}
	}

	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Provider)
	}

	if c.BaseURL == "" && c.Provider == LLMProviderOpenAI {
		c.BaseURL = "https://api.openai.com/v1"
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.MaxInputChars == 0 {
		c.MaxInputChars = 5000
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderGemini:
		if err := ValidateAPIKey(c.APIKey); err != nil {
			return err
		}
	case LLMProviderSimulated:
	default:
		return invalid("provider", "invalid provider %q (valid: openai, gemini, simulated)", c.Provider)
	}

	if c.Timeout < 0 {
		return invalid("timeout", "must be non-negative")
	}
	if c.MaxInputChars < 0 {
		return invalid("max_input_chars", "must be non-negative")
	}
	return nil
}

// ValidateAPIKey rejects missing, placeholder and truncated keys.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return invalid("api_key", "is not set (export OPENAI_API_KEY or set llm.api_key)")
	case key == PlaceholderAPIKey:
		return invalid("api_key", "still holds the sample placeholder value")
	case len(key) < MinAPIKeyLength:
		return invalid("api_key", "is too short (%d characters, need at least %d)", len(key), MinAPIKeyLength)
	}
	return nil
}

