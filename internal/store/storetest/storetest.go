// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go-gin-event-registration/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s. newStore must return an empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "events/missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PutCreatesVersionOne", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1", Version: 0}},
			Mutations:     []store.Mutation{{Op: store.OpPut, Key: "events/e1", Body: []byte(`{"title":"Go meetup","attendees_count":0}`)}},
		})
		require.NoError(t, err)

		doc, err := s.Get(ctx, "events/e1")
		require.NoError(t, err)
		assert.Equal(t, "events/e1", doc.Key)
		assert.Equal(t, int64(1), doc.Version)
		assert.JSONEq(t, `{"title":"Go meetup","attendees_count":0}`, string(doc.Body))
	})

	t.Run("MustNotExistPreconditionRejectsExisting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1", `{"n":1}`)

		err := s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1", Version: 0}},
			Mutations:     []store.Mutation{{Op: store.OpPut, Key: "events/e1", Body: []byte(`{"n":2}`)}},
		})
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		doc, err := s.Get(ctx, "events/e1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(doc.Body))
	})

	t.Run("StaleVersionRejectsWholeBatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1", `{"attendees_count":0}`)
		put(t, s, "events/e1", `{"attendees_count":0}`) // version 2

		err := s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1", Version: 1}},
			Mutations: []store.Mutation{
				{Op: store.OpPut, Key: "events/e1/attendees/u1", Body: []byte(`{"user_id":"u1"}`)},
				{Op: store.OpIncrement, Key: "events/e1", Field: "attendees_count", Delta: 1},
			},
		})
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		_, err = s.Get(ctx, "events/e1/attendees/u1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		doc, err := s.Get(ctx, "events/e1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
		assert.JSONEq(t, `{"attendees_count":0}`, string(doc.Body))
	})

	t.Run("IncrementBumpsVersionAndField", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1", `{"title":"x","attendees_count":3}`)

		err := s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1", Version: 1}},
			Mutations:     []store.Mutation{{Op: store.OpIncrement, Key: "events/e1", Field: "attendees_count", Delta: -1}},
		})
		require.NoError(t, err)

		doc, err := s.Get(ctx, "events/e1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
		assert.JSONEq(t, `{"title":"x","attendees_count":2}`, string(doc.Body))
	})

	t.Run("IncrementMissingAbortsBatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.Commit(ctx, store.Batch{
			Mutations: []store.Mutation{
				{Op: store.OpPut, Key: "events/e1/attendees/u1", Body: []byte(`{"user_id":"u1"}`)},
				{Op: store.OpIncrement, Key: "events/e1", Field: "attendees_count", Delta: 1},
			},
		})
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Get(ctx, "events/e1/attendees/u1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteRemovesFromCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1", `{"n":0}`)
		put(t, s, "events/e1/attendees/u1", `{"user_id":"u1"}`)
		put(t, s, "events/e1/attendees/u2", `{"user_id":"u2"}`)

		err := s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1/attendees/u1", Version: 1}},
			Mutations:     []store.Mutation{{Op: store.OpDelete, Key: "events/e1/attendees/u1"}},
		})
		require.NoError(t, err)

		docs, err := s.List(ctx, "events/e1/attendees")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "events/e1/attendees/u2", docs[0].Key)

		// 刪除後 version 0 代表「不存在」
		err = s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1/attendees/u1", Version: 0}},
			Mutations:     []store.Mutation{{Op: store.OpPut, Key: "events/e1/attendees/u1", Body: []byte(`{"user_id":"u1"}`)}},
		})
		require.NoError(t, err)
	})

	t.Run("RecreatedDocumentNeverReusesVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1/attendees/u1", `{"email":"old@example.com"}`)

		stale, err := s.Get(ctx, "events/e1/attendees/u1")
		require.NoError(t, err)
		require.Equal(t, int64(1), stale.Version)

		require.NoError(t, s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1/attendees/u1", Version: 1}},
			Mutations:     []store.Mutation{{Op: store.OpDelete, Key: "events/e1/attendees/u1"}},
		}))
		require.NoError(t, s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1/attendees/u1", Version: 0}},
			Mutations:     []store.Mutation{{Op: store.OpPut, Key: "events/e1/attendees/u1", Body: []byte(`{"email":"new@example.com"}`)}},
		}))

		recreated, err := s.Get(ctx, "events/e1/attendees/u1")
		require.NoError(t, err)
		assert.Greater(t, recreated.Version, stale.Version)

		// 以刪除前的快照提交必須失敗
		err = s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1/attendees/u1", Version: stale.Version}},
			Mutations:     []store.Mutation{{Op: store.OpPut, Key: "events/e1/attendees/u1", Body: []byte(`{"email":"old@example.com"}`)}},
		})
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		doc, err := s.Get(ctx, "events/e1/attendees/u1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"email":"new@example.com"}`, string(doc.Body))
	})

	t.Run("DeletedDocumentIsGoneForIncrementAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1", `{"attendees_count":1}`)
		require.NoError(t, s.Commit(ctx, store.Batch{
			Mutations: []store.Mutation{{Op: store.OpDelete, Key: "events/e1"}},
		}))

		err := s.Commit(ctx, store.Batch{
			Mutations: []store.Mutation{{Op: store.OpIncrement, Key: "events/e1", Field: "attendees_count", Delta: 1}},
		})
		assert.ErrorIs(t, err, store.ErrNotFound)

		docs, err := s.List(ctx, "events")
		require.NoError(t, err)
		assert.Empty(t, docs)

		// tombstone 對「必須不存在」條件而言等同不存在
		err = s.Commit(ctx, store.Batch{
			Preconditions: []store.Precondition{{Key: "events/e1", Version: 0}},
			Mutations:     []store.Mutation{{Op: store.OpPut, Key: "events/e1", Body: []byte(`{"attendees_count":0}`)}},
		})
		require.NoError(t, err)
	})

	t.Run("ListIsScopedToCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "events/e1", `{"n":1}`)
		put(t, s, "events/e2", `{"n":2}`)
		put(t, s, "events/e1/attendees/u1", `{"user_id":"u1"}`)

		events, err := s.List(ctx, "events")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "events/e1", events[0].Key)
		assert.Equal(t, "events/e2", events[1].Key)

		empty, err := s.List(ctx, "events/e9/attendees")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ConcurrentCreatesOnlyOneWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 10

		var wg sync.WaitGroup
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results <- s.Commit(ctx, store.Batch{
					Preconditions: []store.Precondition{{Key: "events/e1/attendees/u1", Version: 0}},
					Mutations: []store.Mutation{{
						Op:   store.OpPut,
						Key:  "events/e1/attendees/u1",
						Body: []byte(fmt.Sprintf(`{"writer":%d}`, i)),
					}},
				})
			}(i)
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, store.ErrVersionConflict)
		}
		assert.Equal(t, 1, wins)
	})
}

func put(t *testing.T, s store.Store, key, body string) {
	t.Helper()
	require.NoError(t, s.Commit(context.Background(), store.Batch{
		Mutations: []store.Mutation{{Op: store.OpPut, Key: key, Body: []byte(body)}},
	}))
}
