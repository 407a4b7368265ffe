package config

// ToneConfig holds the request parameters for one tone.
// Tones missing from the config fall back to the built-in defaults.
//
// Example:
//
//	tones:
//	  formal:
//	    system_prompt: "Rewrite the text in a formal register."
//	    temperature: 0.5
type ToneConfig struct {
	SystemPrompt string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.7"`
	MaxTokens    int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"minimum=1"`
}

// SetDefaults fills unset parameters. maxTokens is the per-request default.
func (c *ToneConfig) SetDefaults(maxTokens int) {
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = maxTokens
	}
}

// Validate checks the tone parameters.
func (c *ToneConfig) Validate() error {
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return invalid("temperature", "must be between 0 and 2, got %g", *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return invalid("max_tokens", "must be positive")
	}
	return nil
}
