package store_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/store"
)

func markGone(cur []byte, exists bool) ([]byte, error) {
	if !exists {
		return nil, store.ErrAbort
	}
	return []byte("gone"), nil
}

func TestConnFiresHooksOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := s.Put(ctx, "k", []byte("here"))
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	c := store.NewConn(s, "c1", log)
	_, err = c.OnDisconnect("k", markGone)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Armed())

	require.NoError(t, c.Disconnect(ctx))
	e, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "gone", string(e.Value))

	_, err = s.Put(ctx, "k", []byte("back"))
	require.NoError(t, err)
	require.NoError(t, c.Disconnect(ctx))
	e, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "back", string(e.Value))

	_, err = c.OnDisconnect("k", markGone)
	assert.ErrorIs(t, err, store.ErrDisconnected)
}

func TestConnCancelledHookDoesNotFire(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := s.Put(ctx, "k", []byte("here"))
	require.NoError(t, err)

	c := store.NewConn(s, "c1", logrus.New())
	op, err := c.OnDisconnect("k", markGone)
	require.NoError(t, err)
	assert.True(t, op.Cancel())
	assert.False(t, op.Cancel())
	assert.Zero(t, c.Armed())

	require.NoError(t, c.Disconnect(ctx))
	e, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "here", string(e.Value))
}

func TestConnHookOnMissingKeyIsQuiet(t *testing.T) {
	c := store.NewConn(store.NewMemory(), "c1", nil)
	_, err := c.OnDisconnect("missing", markGone)
	require.NoError(t, err)
	assert.NoError(t, c.Disconnect(context.Background()))
}
