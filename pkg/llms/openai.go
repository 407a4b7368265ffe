package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/httpclient"
)

// OpenAIRewriter calls POST {base}/chat/completions.
type OpenAIRewriter struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// NewOpenAIRewriter creates a rewriter from configuration. The http client
// timeout is left unset; each attempt is bounded by its context.
func NewOpenAIRewriter(cfg *config.LLMConfig, opts ...httpclient.Option) *OpenAIRewriter {
	opts = append([]httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	}, opts...)

	return &OpenAIRewriter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpclient.New(opts...),
	}
}

// Name returns "openai".
func (p *OpenAIRewriter) Name() string {
	return string(config.LLMProviderOpenAI)
}

// Rewrite performs one chat completion.
func (p *OpenAIRewriter) Rewrite(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Text},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if se, ok := httpclient.AsStatusError(err); ok {
			return nil, p.apiError(se)
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	result := &Response{
		Text:  strings.TrimSpace(out.Choices[0].Message.Content),
		Model: out.Model,
	}
	if result.Model == "" {
		result.Model = p.model
	}
	if out.Usage != nil {
		result.PromptTokens = out.Usage.PromptTokens
		result.CompletionTokens = out.Usage.CompletionTokens
		result.TotalTokens = out.Usage.TotalTokens
	}
	return result, nil
}

func (p *OpenAIRewriter) apiError(se *httpclient.StatusError) *APIError {
	apiErr := &APIError{
		Provider:   p.Name(),
		StatusCode: se.StatusCode,
		RetryAfter: se.RetryAfter,
		Err:        se,
	}

	var body openAIErrorBody
	if json.Unmarshal(se.Body, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Type = body.Error.Type
	} else {
		apiErr.Message = strings.TrimSpace(string(se.Body))
	}
	return apiErr
}

var _ Rewriter = (*OpenAIRewriter)(nil)
