package llms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// GeminiRewriter calls generateContent through the genai SDK.
type GeminiRewriter struct {
	client *genai.Client
	model  string
}

// NewGeminiRewriter creates a rewriter from configuration. A non-empty
// BaseURL overrides the public endpoint.
func NewGeminiRewriter(ctx context.Context, cfg *config.LLMConfig) (*GeminiRewriter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiRewriter{client: client, model: cfg.Model}, nil
}

// Name returns "gemini".
func (p *GeminiRewriter) Name() string {
	return string(config.LLMProviderGemini)
}

// Rewrite performs one generateContent call.
func (p *GeminiRewriter) Rewrite(ctx context.Context, req Request) (*Response, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Text), gc)
	if err != nil {
		return nil, p.wrapError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, ErrEmptyCompletion
	}

	out := &Response{Text: text, Model: p.model}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

// wrapError converts SDK API errors to *APIError so they classify like
// the other providers.
func (p *GeminiRewriter) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: p.Name(), StatusCode: apiErr.Code, Message: apiErr.Message, Type: apiErr.Status, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: p.Name(), StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Type: apiErrPtr.Status, Err: err}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}

var _ Rewriter = (*GeminiRewriter)(nil)
