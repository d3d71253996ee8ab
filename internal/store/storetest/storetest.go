// Package storetest provides a behaviour suite shared by all store backends.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend is what a store implementation must provide to run the suite.
type Backend interface {
	store.Store
	store.ThreadIndex
}

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) Backend

// Run exercises the Store and ThreadIndex contracts against backends created
// by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("load unknown thread is empty", func(t *testing.T) {
		s := newBackend(t)
		msgs, err := s.Load(context.Background(), "never-written")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("append preserves order", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()

		for i := range 6 {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			require.NoError(t, s.Append(ctx, "t1", models.NewMessage("t1", role, fmt.Sprintf("m%d", i))))
		}

		msgs, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, msgs, 6)
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
			assert.Equal(t, "t1", m.ThreadID)
		}
		assert.Equal(t, models.RoleUser, msgs[0].Role)
		assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	})

	t.Run("threads are isolated", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, "a", models.NewMessage("a", models.RoleUser, "for a")))
		require.NoError(t, s.Append(ctx, "b", models.NewMessage("b", models.RoleUser, "for b")))

		msgs, err := s.Load(ctx, "a")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "for a", msgs[0].Content)
	})

	t.Run("append keeps empty content", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, "t1", models.NewMessage("t1", models.RoleAssistant, "")))
		msgs, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "", msgs[0].Content)
	})

	t.Run("append rejects invalid message", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()

		err := s.Append(ctx, "", models.NewMessage("", models.RoleUser, "x"))
		assert.ErrorIs(t, err, store.ErrInvalidMessage)

		err = s.Append(ctx, "t1", models.Message{Role: "system", Content: "x"})
		assert.ErrorIs(t, err, store.ErrInvalidMessage)

		msgs, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("append creates thread record", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, "auto", models.NewMessage("auto", models.RoleUser, "hi")))

		th, err := s.GetThread(ctx, "auto")
		require.NoError(t, err)
		assert.Equal(t, "auto", th.ID)
		assert.Equal(t, models.DefaultTitle, th.Title)
	})

	t.Run("get unknown thread", func(t *testing.T) {
		s := newBackend(t)
		_, err := s.GetThread(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("save thread keeps first real title", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()

		require.NoError(t, s.SaveThread(ctx, models.Thread{ID: "t1", Title: models.DefaultTitle}))
		require.NoError(t, s.SaveThread(ctx, models.Thread{ID: "t1", Title: "Trip to Lisbon"}))
		require.NoError(t, s.SaveThread(ctx, models.Thread{ID: "t1", Title: "Something else"}))

		th, err := s.GetThread(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Trip to Lisbon", th.Title)
	})

	t.Run("list threads newest first", func(t *testing.T) {
		s := newBackend(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		for i, id := range []string{"first", "second", "third"} {
			created := base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.SaveThread(ctx, models.Thread{
				ID:        id,
				Title:     "Title " + id,
				CreatedAt: created,
				UpdatedAt: created,
			}))
		}

		threads, err := s.ListThreads(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 3)
		assert.Equal(t, "third", threads[0].ID)
		assert.Equal(t, "second", threads[1].ID)
		assert.Equal(t, "first", threads[2].ID)
		assert.True(t, threads[2].CreatedAt.Equal(base))
	})

	t.Run("list threads empty", func(t *testing.T) {
		s := newBackend(t)
		threads, err := s.ListThreads(context.Background())
		require.NoError(t, err)
		assert.Empty(t, threads)
	})
}
