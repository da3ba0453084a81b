package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-broadcast-service/internal/storage/memory"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

func TestTokenStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTokenStore(
		broadcast.TokenRecord{PushToken: "a", Notified: true, IsForTest: true, Status: broadcast.StatusPublished},
		broadcast.TokenRecord{PushToken: "b", Notified: true, IsForTest: false, Status: broadcast.StatusPublished},
		broadcast.TokenRecord{PushToken: "c", IsForTest: true, Status: broadcast.StatusDraft},
	)

	t.Run("ResetNotified clears every record", func(t *testing.T) {
		require.NoError(t, store.ResetNotified(ctx))
		for _, r := range store.All() {
			assert.False(t, r.Notified, r.PushToken)
		}
	})

	t.Run("FindTokens matches both fields", func(t *testing.T) {
		tokens, err := store.FindTokens(ctx, broadcast.TokenQuery{IsForTest: true, Status: broadcast.StatusPublished})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, tokens)
	})

	t.Run("MarkNotified and MarkInvalid ignore unknown tokens", func(t *testing.T) {
		require.NoError(t, store.MarkNotified(ctx, []string{"a", "missing"}))
		require.NoError(t, store.MarkInvalid(ctx, []string{"b", "missing"}))

		a, _ := store.Get("a")
		assert.True(t, a.Notified)

		b, _ := store.Get("b")
		assert.False(t, b.Notified)
		assert.Equal(t, broadcast.StatusDraft, b.Status)

		_, ok := store.Get("missing")
		assert.False(t, ok)
	})
}
