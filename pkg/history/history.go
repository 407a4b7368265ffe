// Package history keeps the most recent conversions of each user.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/tonetuner/pkg/store"
)

// DefaultKeyPrefix namespaces history keys in a shared store.
const DefaultKeyPrefix = "tonetuner_"

// DefaultMaxEntries caps a user's history.
const DefaultMaxEntries = 50

// ErrInvalidUser is returned for an empty user id.
var ErrInvalidUser = errors.New("user id cannot be empty")

// Entry is one completed conversion.
type Entry struct {
	ID            string    `json:"id"`
	OriginalText  string    `json:"originalText"`
	ConvertedText string    `json:"convertedText"`
	Tone          string    `json:"tone"`
	CreatedAt     time.Time `json:"createdAt"`
}

// History stores entries newest first.
type History struct {
	store  store.Store
	prefix string
	max    int

	mu sync.Mutex
}

// Option configures a History.
type Option func(*History)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(h *History) {
		h.prefix = prefix
	}
}

// WithMaxEntries overrides DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.max = n
		}
	}
}

// New creates a History backed by s.
func New(s store.Store, opts ...Option) *History {
	h := &History{
		store:  s,
		prefix: DefaultKeyPrefix,
		max:    DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add prepends e to the user's history, dropping the oldest entries beyond
// the cap.
func (h *History) Add(ctx context.Context, userID string, e Entry) error {
	if userID == "" {
		return ErrInvalidUser
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load(ctx, userID)
	if err != nil {
		return err
	}
	entries = append([]Entry{e}, entries...)
	if len(entries) > h.max {
		entries = entries[:h.max]
	}
	return h.save(ctx, userID, entries)
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns all of them.
func (h *History) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	h.mu.Lock()
	entries, err := h.load(ctx, userID)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Clear removes the user's history.
func (h *History) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Remove(ctx, h.key(userID)); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (h *History) key(userID string) string {
	return h.prefix + "history:" + userID
}

func (h *History) load(ctx context.Context, userID string) ([]Entry, error) {
	raw, ok, err := h.store.Get(ctx, h.key(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("corrupt history: %w", err)
	}
	return entries, nil
}

func (h *History) save(ctx context.Context, userID string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := h.store.Set(ctx, h.key(userID), string(data)); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}
