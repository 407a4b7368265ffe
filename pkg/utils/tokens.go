// Package utils holds small helpers shared by the tonetuner packages.
package utils

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Chat framing in the OpenAI format: every message is wrapped in three
// tokens, and the reply is primed with three more.
const (
	tokensPerMessage = 3
	tokensReplyPrime = 3
)

// encodingPrefixes maps model name prefixes to BPE encodings. The longest
// matching prefix wins. Gemini has no public tokenizer; cl100k is close.
var encodingPrefixes = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
	"gemini":        "cl100k_base",
}

// encodings caches loaded encodings by encoding name.
var encodings sync.Map

// TokenCounter sizes rewrite requests for the token quota. Without an
// encoding (tiktoken downloads rank files on first use, so offline hosts
// have none) it counts four characters per token.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTokenCounter loads the encoding for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	name := EncodingFor(model)
	if enc, ok := encodings.Load(name); ok {
		return &TokenCounter{encoding: enc.(*tiktoken.Tiktoken), model: model}, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", name, err)
	}
	actual, _ := encodings.LoadOrStore(name, enc)
	return &TokenCounter{encoding: actual.(*tiktoken.Tiktoken), model: model}, nil
}

// NewEstimator is NewTokenCounter falling back to the character heuristic.
func NewEstimator(model string) *TokenCounter {
	tc, err := NewTokenCounter(model)
	if err != nil {
		slog.Warn("Token encoding unavailable, using character heuristic", "model", model, "error", err)
		return NewHeuristicEstimator(model)
	}
	return tc
}

// NewHeuristicEstimator never loads an encoding. The simulated provider
// uses it.
func NewHeuristicEstimator(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

func (tc *TokenCounter) Model() string { return tc.model }

// Count returns the tokens of text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateRequest is the worst-case charge of one rewrite: the system and
// user messages with their framing, plus the whole completion budget.
func (tc *TokenCounter) EstimateRequest(systemPrompt, text string, maxCompletion int) int64 {
	n := tokensReplyPrime + maxCompletion
	for _, m := range [][2]string{{"system", systemPrompt}, {"user", text}} {
		n += tokensPerMessage + tc.Count(m[0]) + tc.Count(m[1])
	}
	return int64(n)
}

// EstimateTokens counts four bytes per token, rounding up so non-empty
// text is never free.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EncodingFor names the BPE encoding used for model.
func EncodingFor(model string) string {
	best, n := "cl100k_base", 0
	for prefix, enc := range encodingPrefixes {
		if len(prefix) > n && strings.HasPrefix(model, prefix) {
			best, n = enc, len(prefix)
		}
	}
	return best
}
