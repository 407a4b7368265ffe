package llms

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// SimulatedRewriter rewrites text locally with phrase substitutions, a
// prefix and a closing punctuation rule per tone. It needs no credentials
// and is meant for development and demos.
type SimulatedRewriter struct {
	delay time.Duration
	rules map[string]toneRule
}

type replacement struct {
	from *regexp.Regexp
	to   string
}

type toneRule struct {
	replacements []replacement
	prefix       string
	suffix       string
}

func phrase(from, to string) replacement {
	return replacement{from: regexp.MustCompile(`(?i)\b(?:` + from + `)\b`), to: to}
}

var simulatedRules = map[string]toneRule{
	"formal": {
		replacements: []replacement{
			phrase(`hi|hey|hello`, "Good day"),
			phrase(`thanks|thx`, "Thank you"),
			phrase(`sorry`, "I apologize"),
			phrase(`how are you`, "how are you doing"),
			phrase(`what's up`, "how may I help you"),
			phrase(`can't`, "cannot"),
			phrase(`won't`, "will not"),
		},
		prefix: "With respect, ",
		suffix: ".",
	},
	"casual": {
		replacements: []replacement{
			phrase(`good day|hello`, "hey"),
			phrase(`thank you`, "thanks"),
			phrase(`i apologize`, "sorry"),
			phrase(`cannot`, "can't"),
			phrase(`will not`, "won't"),
		},
	},
	"friendly": {
		replacements: []replacement{
			phrase(`hello|hi`, "Hi there"),
			phrase(`thank you|thanks`, "Thanks so much"),
			phrase(`sorry`, "So sorry"),
		},
		prefix: "Just wanted to say, ",
		suffix: "!",
	},
	"professional": {
		replacements: []replacement{
			phrase(`hi|hey`, "Hello"),
			phrase(`thanks|thx`, "Thank you"),
			phrase(`sorry`, "We regret"),
			phrase(`asap`, "at your earliest convenience"),
			phrase(`can't`, "cannot"),
		},
		prefix: "For your attention: ",
		suffix: ".",
	},
}

// NewSimulatedRewriter creates an offline rewriter. delay emulates upstream
// latency and is cut short by context cancellation.
func NewSimulatedRewriter(delay time.Duration) *SimulatedRewriter {
	return &SimulatedRewriter{delay: delay, rules: simulatedRules}
}

// Name returns "simulated".
func (p *SimulatedRewriter) Name() string {
	return "simulated"
}

// Rewrite applies the tone's rules. Token usage is reported as one token
// per word of input and output.
func (p *SimulatedRewriter) Rewrite(ctx context.Context, req Request) (*Response, error) {
	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	text := strings.TrimSpace(req.Text)
	if rule, ok := p.rules[strings.ToLower(req.Tone)]; ok {
		text = rule.apply(text)
	}

	prompt := len(strings.Fields(req.Text))
	completion := len(strings.Fields(text))
	return &Response{
		Text:             text,
		Model:            p.Name(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}, nil
}

func (r toneRule) apply(text string) string {
	for _, rep := range r.replacements {
		text = rep.from.ReplaceAllString(text, rep.to)
	}
	if r.prefix != "" && text != "" {
		text = r.prefix + lowerFirst(text)
	}
	if r.suffix != "" && text != "" && !endsWithPunct(text) {
		text += r.suffix
	}
	return text
}

func endsWithPunct(s string) bool {
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

// lowerFirst lowercases the first rune unless the word looks like an
// acronym or the pronoun I.
func lowerFirst(s string) string {
	first, rest := []rune(s)[0], []rune(s)[1:]
	if len(rest) > 0 && (unicode.IsUpper(rest[0]) || rest[0] == ' ' || rest[0] == '\'') {
		return s
	}
	return string(unicode.ToLower(first)) + string(rest)
}

var _ Rewriter = (*SimulatedRewriter)(nil)
