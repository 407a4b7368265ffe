package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tonetuner/pkg/store"
)

func TestHistory_CapsAndOrders(t *testing.T) {
	h := New(store.NewMemoryStore(), WithMaxEntries(3))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, h.Add(ctx, "u1", Entry{
			ID:        fmt.Sprintf("c%d", i),
			Tone:      "formal",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := h.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c4", entries[0].ID)
	assert.Equal(t, "c2", entries[2].ID)
	assert.True(t, entries[0].CreatedAt.Equal(base.Add(4*time.Minute)))

	limited, err := h.List(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestHistory_DefaultCap(t *testing.T) {
	h := New(store.NewMemoryStore())
	ctx := context.Background()

	for i := range DefaultMaxEntries + 10 {
		require.NoError(t, h.Add(ctx, "u1", Entry{ID: fmt.Sprint(i)}))
	}
	entries, err := h.List(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, DefaultMaxEntries)
}

func TestHistory_UsersAreSeparate(t *testing.T) {
	s := store.NewMemoryStore()
	h := New(s, WithKeyPrefix("tt_"))
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, "alice", Entry{ID: "a"}))
	require.NoError(t, h.Add(ctx, "bob", Entry{ID: "b"}))

	keys, err := s.ListKeys(ctx, "tt_history:")
	require.NoError(t, err)
	assert.Equal(t, []string{"tt_history:alice", "tt_history:bob"}, keys)

	require.NoError(t, h.Clear(ctx, "alice"))
	entries, err := h.List(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = h.List(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHistory_Errors(t *testing.T) {
	s := store.NewMemoryStore()
	h := New(s)
	ctx := context.Background()

	assert.ErrorIs(t, h.Add(ctx, "", Entry{}), ErrInvalidUser)
	_, err := h.List(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidUser)

	require.NoError(t, s.Set(ctx, "tonetuner_history:u", "[{"))
	_, err = h.List(ctx, "u", 0)
	assert.Error(t, err)
}
