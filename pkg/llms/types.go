// Package llms implements the rewrite backends: OpenAI chat completions,
// Gemini through the genai SDK, and an offline simulated rewriter.
package llms

import (
	"context"
)

// Request is a single rewrite call.
type Request struct {
	Tone         string
	SystemPrompt string
	Text         string
	Temperature  float64
	MaxTokens    int
}

// Response is a successful rewrite.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is zero when the upstream did not report usage.
	TotalTokens int
}

// Rewriter performs one rewrite attempt. Implementations do not retry;
// the caller wraps attempts in a retry loop.
type Rewriter interface {
	Rewrite(ctx context.Context, req Request) (*Response, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
