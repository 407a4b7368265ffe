package config

import (
	"github.com/invopop/jsonschema"
)

// SchemaID is the published identifier of the config schema.
const SchemaID = "https://github.com/kadirpekel/tonetuner/schemas/config.json"

// Schema reflects the JSON Schema of Config.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref) for editor form generators
		DoNotReference: true,
	}

	schema := reflector.Reflect(&Config{})
	schema.ID = SchemaID
	schema.Title = "ToneTuner Configuration Schema"
	schema.Description = "Quota, cost and rewrite settings for tonetuner"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []any{
		map[string]any{
			"llm": map[string]any{
				"provider": "openai",
				"api_key":  "${OPENAI_API_KEY}",
			},
			"rate_limit": map[string]any{
				"requests": map[string]any{"minute": 10, "hour": 100, "day": 1000},
			},
			"cost": map[string]any{
				"daily_limit":   50,
				"monthly_limit": 500,
			},
		},
	}
	return schema
}
