package llms

import (
	"context"
	"fmt"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// New creates the Rewriter selected by cfg.Provider.
func New(ctx context.Context, cfg *config.LLMConfig) (Rewriter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIRewriter(cfg), nil
	case config.LLMProviderGemini:
		return NewGeminiRewriter(ctx, cfg)
	case config.LLMProviderSimulated:
		return NewSimulatedRewriter(0), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, gemini, simulated)", cfg.Provider)
	}
}
