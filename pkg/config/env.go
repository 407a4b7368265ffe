package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// apiKeyVars lists the variables that may hold each provider's key, in
// lookup order. The order of providers decides auto-detection.
var apiKeyVars = []struct {
	provider LLMProvider
	vars     []string
}{
	{LLMProviderOpenAI, []string{"OPENAI_API_KEY"}},
	{LLMProviderGemini, []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
}

// apiKeyFromEnv returns the first exported key variable of p.
func apiKeyFromEnv(p LLMProvider) string {
	for _, e := range apiKeyVars {
		if e.provider != p {
			continue
		}
		for _, name := range e.vars {
			if v := os.Getenv(name); v != "" {
				return v
			}
		}
	}
	return ""
}

// providerFromEnv picks the first provider with an exported key and falls
// back to the offline simulator.
func providerFromEnv() LLMProvider {
	for _, e := range apiKeyVars {
		if apiKeyFromEnv(e.provider) != "" {
			return e.provider
		}
	}
	return LLMProviderSimulated
}

// LoadEnvFiles reads .env.local and then .env from the working directory.
// Variables already exported are left alone.
func LoadEnvFiles() error {
	return loadDotEnv(".env.local", ".env")
}

// LoadDotEnvForConfig reads the .env file next to a config file.
func LoadDotEnvForConfig(configPath string) error {
	return loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"))
}

func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return nil
}
