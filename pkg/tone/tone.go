// Package tone defines the supported rewrite tones and their request
// parameters.
package tone

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// ID names a tone.
type ID string

const (
	Formal       ID = "formal"
	Casual       ID = "casual"
	Friendly     ID = "friendly"
	Professional ID = "professional"
)

// DefaultTemperature is used by tones that do not set one.
const DefaultTemperature = 0.7

// All returns the tone ids in display order.
func All() []ID {
	return []ID{Formal, Casual, Friendly, Professional}
}

// Params are the chat parameters sent for one tone.
type Params struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

var defaultPrompts = map[ID]string{
	Formal:       "Rewrite the following text in a polite and formal tone. Use respectful, courteous phrasing. Reply with the rewritten text only.",
	Casual:       "Rewrite the following text in a casual, relaxed tone. Use friendly everyday expressions. Reply with the rewritten text only.",
	Friendly:     "Rewrite the following text in a warm and friendly tone. Be kind and considerate. Reply with the rewritten text only.",
	Professional: "Rewrite the following text in a professional, businesslike tone. Be clear and efficient. Reply with the rewritten text only.",
}

// UnknownToneError reports a tone id outside the supported set.
type UnknownToneError struct {
	Tone string
}

func (e *UnknownToneError) Error() string {
	return fmt.Sprintf("unknown tone %q (valid: %s)", e.Tone, joinIDs(All()))
}

// Parse normalizes s and checks it names a supported tone.
func Parse(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultPrompts[id]; !ok {
		return "", &UnknownToneError{Tone: s}
	}
	return id, nil
}

// Registry resolves tone parameters, with configured overrides on top of
// the built-in prompts.
type Registry struct {
	params map[ID]Params
}

// NewRegistry builds a registry. maxTokens is the completion budget for
// tones that do not configure one. Overrides for unknown tone ids are
// rejected.
func NewRegistry(overrides map[string]*config.ToneConfig, maxTokens int) (*Registry, error) {
	r := &Registry{params: make(map[ID]Params, len(defaultPrompts))}
	for id, prompt := range defaultPrompts {
		r.params[id] = Params{
			SystemPrompt: prompt,
			Temperature:  DefaultTemperature,
			MaxTokens:    maxTokens,
		}
	}

	for name, tc := range overrides {
		if tc == nil {
			continue
		}
		id, err := Parse(name)
		if err != nil {
			return nil, err
		}
		p := r.params[id]
		if tc.SystemPrompt != "" {
			p.SystemPrompt = tc.SystemPrompt
		}
		if tc.Temperature != nil {
			p.Temperature = *tc.Temperature
		}
		if tc.MaxTokens > 0 {
			p.MaxTokens = tc.MaxTokens
		}
		r.params[id] = p
	}
	return r, nil
}

// Get returns the parameters for id.
func (r *Registry) Get(id ID) (Params, bool) {
	p, ok := r.params[id]
	return p, ok
}

// IDs returns the registered tone ids sorted by name.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.params))
	for id := range r.params {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func joinIDs(ids []ID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}
