package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, cfg Config, members ...models.Member) (*Sweeper, store.Store, *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	log, _ := test.NewNullLogger()
	reg, err := registry.New(s, log)
	require.NoError(t, err)
	_, err = reg.Create(ctx, "ABC123")
	require.NoError(t, err)

	room := models.NewRoom("ABC123", t0)
	for _, m := range members {
		room.Members[m.ID] = m
	}
	b, err := models.EncodeRoom(room)
	require.NoError(t, err)
	_, err = s.Put(ctx, registry.RoomKey("ABC123"), b)
	require.NoError(t, err)

	return New(s, reg, cfg, log), s, reg
}

func TestSweepRoomClassifiesMembers(t *testing.T) {
	sw, _, reg := setup(t, Config{Timeout: 5 * time.Minute, StuckMultiplier: 2},
		models.Member{ID: "fresh-online", Online: true, LastSeen: t0},
		models.Member{ID: "idle-online", Online: true, LastSeen: t0.Add(-6 * time.Minute)},
		models.Member{ID: "stuck-online", Online: true, LastSeen: t0.Add(-11 * time.Minute)},
		models.Member{ID: "recent-offline", Online: false, LastSeen: t0.Add(-4 * time.Minute)},
		models.Member{ID: "stale-offline", Online: false, LastSeen: t0.Add(-6 * time.Minute)},
	)
	sw.WithClock(func() time.Time { return t0 })

	res, err := sw.SweepRoom(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-offline", "stuck-online"}, res.Removed)
	assert.False(t, res.RoomDeleted)

	room, err := reg.Get(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Len(t, room.Members, 3)
	assert.Contains(t, room.Members, "idle-online")
}

func TestSweepDeletesRoomItEmptied(t *testing.T) {
	ctx := context.Background()
	sw, s, reg := setup(t, DefaultConfig(),
		models.Member{ID: "gone", Online: false, LastSeen: t0.Add(-time.Hour)},
	)
	sw.WithClock(func() time.Time { return t0 })
	_, err := s.Put(ctx, registry.MessagePrefix("ABC123")+"m1", []byte("{}"))
	require.NoError(t, err)

	res, err := sw.SweepRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, res.Removed)
	assert.True(t, res.RoomDeleted)

	exists, err := reg.Exists(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, exists)
	msgs, err := s.List(ctx, registry.MessagePrefix("ABC123"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSweepKeepsEmptyRoomsWhenPolicyOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeleteEmptyRooms = false
	sw, _, reg := setup(t, cfg, models.Member{ID: "gone", Online: false, LastSeen: t0.Add(-time.Hour)})
	sw.WithClock(func() time.Time { return t0 })

	res, err := sw.SweepRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.False(t, res.RoomDeleted)
	exists, err := reg.Exists(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSweepAbandonedEmptyRoom(t *testing.T) {
	sw, _, _ := setup(t, DefaultConfig())

	sw.WithClock(func() time.Time { return t0.Add(time.Minute) })
	res, err := sw.SweepRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.False(t, res.RoomDeleted, "fresh empty room is kept")

	sw.WithClock(func() time.Time { return t0.Add(6 * time.Minute) })
	res, err = sw.SweepRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.True(t, res.RoomDeleted)
}

// renewingStore refreshes a member between the sweeper's read and its write.
type renewingStore struct {
	store.Store
	renew func()
	done  bool
}

func (r *renewingStore) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (uint64, error) {
	if !r.done {
		r.done = true
		r.renew()
	}
	return r.Store.CompareAndSwap(ctx, key, version, value)
}

func TestSweepSparesMemberRenewedConcurrently(t *testing.T) {
	ctx := context.Background()
	sw, s, reg := setup(t, DefaultConfig(),
		models.Member{ID: "racer", Online: false, LastSeen: t0.Add(-time.Hour)},
	)
	sw.WithClock(func() time.Time { return t0 })
	sw.store = &renewingStore{Store: s, renew: func() {
		room, err := reg.Get(ctx, "ABC123")
		require.NoError(t, err)
		room.Members["racer"] = models.Member{ID: "racer", Online: true, LastSeen: t0}
		b, err := models.EncodeRoom(room)
		require.NoError(t, err)
		_, err = s.Put(ctx, registry.RoomKey("ABC123"), b)
		require.NoError(t, err)
	}}

	res, err := sw.SweepRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	assert.False(t, res.RoomDeleted)

	room, err := reg.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, room.Members["racer"].Online)
}

func TestSweepAllAndMissingRoom(t *testing.T) {
	ctx := context.Background()
	sw, _, reg := setup(t, DefaultConfig(), models.Member{ID: "gone", LastSeen: t0.Add(-time.Hour)})
	sw.WithClock(func() time.Time { return t0 })
	_, err := reg.Create(ctx, "KEEP00")
	require.NoError(t, err)

	results, err := sw.SweepAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ABC123", results[0].Code)

	res, err := sw.SweepRoom(ctx, "NOPE00")
	require.NoError(t, err)
	assert.False(t, res.Changed())
}

func TestRunStopsOnCancel(t *testing.T) {
	sw, _, _ := setup(t, Config{Timeout: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDefaults(t *testing.T) {
	sw := New(store.NewMemory(), nil, Config{}, nil)
	cfg := sw.Config()
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, 150*time.Second, cfg.Interval)
	assert.Equal(t, 2.0, cfg.StuckMultiplier)
}
