// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/store"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		v1, err := s.CompareAndSwap(ctx, "k", 0, []byte("a"))
		require.NoError(t, err)
		require.NotZero(t, v1)

		_, err = s.CompareAndSwap(ctx, "k", 0, []byte("b"))
		assert.ErrorIs(t, err, store.ErrConflict)

		v2, err := s.CompareAndSwap(ctx, "k", v1, []byte("b"))
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		_, err = s.CompareAndSwap(ctx, "k", v1, []byte("c"))
		assert.ErrorIs(t, err, store.ErrConflict)

		e, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "b", string(e.Value))
		assert.Equal(t, v2, e.Version)
	})

	t.Run("DeleteAndRecreate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		v1, err := s.Put(ctx, "k", []byte("a"))
		require.NoError(t, err)
		assert.ErrorIs(t, s.CompareAndDelete(ctx, "k", v1+100), store.ErrConflict)
		require.NoError(t, s.CompareAndDelete(ctx, "k", v1))
		require.NoError(t, s.Delete(ctx, "k"))

		v2, err := s.CompareAndSwap(ctx, "k", 0, []byte("b"))
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)
	})

	t.Run("ListAndDeletePrefix", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, k := range []string{"rooms/B", "rooms/A", "messages/A/1", "messages/A/2", "messages/B/1"} {
			_, err := s.Put(ctx, k, []byte(k))
			require.NoError(t, err)
		}

		rooms, err := s.List(ctx, "rooms/")
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "rooms/A", rooms[0].Key)
		assert.Equal(t, "rooms/B", string(rooms[1].Value))

		require.NoError(t, s.DeletePrefix(ctx, "messages/A/"))
		left, err := s.List(ctx, "messages/")
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "messages/B/1", left[0].Key)
	})

	t.Run("Watch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := newStore(t)

		w, err := s.Watch(ctx, "rooms/")
		require.NoError(t, err)
		defer w.Stop()

		_, err = s.Put(ctx, "other/X", []byte("x"))
		require.NoError(t, err)
		_, err = s.Put(ctx, "rooms/X", []byte("x"))
		require.NoError(t, err)

		select {
		case ev := <-w.Events():
			assert.Equal(t, "rooms/X", ev.Key)
			assert.Equal(t, store.OpPut, ev.Op)
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
		}

		require.NoError(t, s.Delete(ctx, "rooms/X"))
		select {
		case ev := <-w.Events():
			assert.Equal(t, "rooms/X", ev.Key)
			assert.Equal(t, store.OpDelete, ev.Op)
		case <-time.After(2 * time.Second):
			t.Fatal("no delete event")
		}
	})

	t.Run("TransactCounter", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 5; j++ {
					_, err := store.Transact(ctx, s, "counter", 1000, func(cur []byte, exists bool) ([]byte, error) {
						n := 0
						if exists {
							n, _ = strconv.Atoi(string(cur))
						}
						return []byte(strconv.Itoa(n + 1)), nil
					})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		e, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "40", string(e.Value))
	})

	t.Run("TransactAbortAndDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.Put(ctx, "k", []byte("full"))
		require.NoError(t, err)

		_, err = store.Transact(ctx, s, "k", 5, func([]byte, bool) ([]byte, error) {
			return nil, store.ErrAbort
		})
		assert.ErrorIs(t, err, store.ErrAborted)

		_, err = store.Transact(ctx, s, "k", 5, func([]byte, bool) ([]byte, error) {
			return nil, nil
		})
		require.NoError(t, err)
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
