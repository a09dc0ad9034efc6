package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/chat"
	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

type recorder struct {
	mu      sync.Mutex
	members []models.Member
	removed chan error
}

func newRecorder() *recorder { return &recorder{removed: make(chan error, 4)} }

func (r *recorder) MembersChanged(_ string, ms []models.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = ms
}

func (r *recorder) MessagesChanged(string, []models.Message) {}

func (r *recorder) Removed(_ string, err error) { r.removed <- err }

type fixture struct {
	store store.Store
	reg   *registry.Registry
	coord *Coordinator
	chat  *chat.Channel
}

func newFixture(t *testing.T, s store.Store, codes ...string) *fixture {
	t.Helper()
	base := store.NewMemory()
	if s == nil {
		s = base
	}
	reg, err := registry.New(s, nullLogger())
	require.NoError(t, err)
	for _, code := range codes {
		_, err := reg.Create(context.Background(), code)
		require.NoError(t, err)
	}
	coord := NewCoordinator(s, Config{Capacity: 8, MaxRetries: 100}, nullLogger())
	return &fixture{store: s, reg: reg, coord: coord, chat: chat.NewChannel(s, coord, nullLogger())}
}

func (f *fixture) client(t *testing.T, id string, obs Observer, deleteEmpty bool) (*Client, *store.Conn) {
	conn := store.NewConn(f.store, id, nullLogger())
	c := NewClient(ClientConfig{
		Coordinator:      f.coord,
		Registry:         f.reg,
		Messages:         f.chat,
		Conn:             conn,
		Observer:         obs,
		Log:              nullLogger(),
		DeleteEmptyRooms: deleteEmpty,
	})
	t.Cleanup(c.Detach)
	return c, conn
}

func fill(t *testing.T, f *fixture, code string, n int) []*Client {
	t.Helper()
	clients := make([]*Client, n)
	for i := range clients {
		c, _ := f.client(t, fmt.Sprintf("c%d", i), nil, false)
		_, err := c.Join(context.Background(), code, JoinOptions{})
		require.NoError(t, err)
		clients[i] = c
	}
	return clients
}

func TestConcurrentClientJoins(t *testing.T) {
	f := newFixture(t, nil, "ABC123")
	const n = 12
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		c, _ := f.client(t, fmt.Sprintf("c%d", i), nil, false)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Join(context.Background(), "abc123", JoinOptions{})
		}(i)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		if err == nil {
			joined++
			continue
		}
		assert.ErrorIs(t, err, ErrRoomFull)
	}
	assert.Equal(t, 8, joined)
}

func TestJoinSameRoomTwice(t *testing.T) {
	f := newFixture(t, nil, "ABC123")
	c, _ := f.client(t, "c1", nil, false)

	m1, err := c.Join(context.Background(), "ABC123", JoinOptions{Name: "Amber Otter"})
	require.NoError(t, err)
	m2, err := c.Join(context.Background(), "abc123", JoinOptions{})
	require.NoError(t, err)
	assert.Equal(t, m1.ID, m2.ID)
	assert.Equal(t, Joined, c.Phase())

	n, err := f.coord.OnlineCount(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJoinMissingRoom(t *testing.T) {
	f := newFixture(t, nil)
	c, _ := f.client(t, "c1", nil, false)
	_, err := c.Join(context.Background(), "NOPE00", JoinOptions{})
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, Idle, c.Phase())
}

func TestLeaveFreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "ABC123")
	clients := fill(t, f, "ABC123", 8)

	ninth, _ := f.client(t, "c9", nil, false)
	_, err := ninth.Join(ctx, "ABC123", JoinOptions{})
	require.ErrorIs(t, err, ErrRoomFull)

	self, _, ok := clients[0].Identity()
	require.True(t, ok)
	clients[0].Leave(ctx, "ABC123")
	assert.Equal(t, Left, clients[0].Phase())

	members, err := f.coord.Members(ctx, "ABC123")
	require.NoError(t, err)
	for _, m := range members {
		if m.ID == self.ID {
			assert.False(t, m.Online)
		}
	}

	_, err = ninth.Join(ctx, "ABC123", JoinOptions{})
	require.NoError(t, err)

	// leaving twice or leaving a room we are not in is harmless
	clients[0].Leave(ctx, "ABC123")
	clients[1].Leave(ctx, "ZZZ999")
	assert.Equal(t, Joined, clients[1].Phase())
}

func TestDisconnectFreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "ABC123")
	conns := make([]*store.Conn, 8)
	for i := range conns {
		c, conn := f.client(t, fmt.Sprintf("c%d", i), nil, false)
		_, err := c.Join(ctx, "ABC123", JoinOptions{})
		require.NoError(t, err)
		conns[i] = conn
		if i == 0 {
			c.Detach()
		}
	}

	require.Equal(t, 1, conns[0].Armed())
	require.NoError(t, conns[0].Disconnect(ctx))

	n, err := f.coord.OnlineCount(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	ninth, _ := f.client(t, "c9", nil, false)
	_, err = ninth.Join(ctx, "ABC123", JoinOptions{})
	require.NoError(t, err)
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "ABC123")
	c, conn := f.client(t, "c1", nil, true)
	_, err := c.Join(ctx, "ABC123", JoinOptions{})
	require.NoError(t, err)

	c.Leave(ctx, "ABC123")
	assert.Zero(t, conn.Armed())
	exists, err := f.reg.Exists(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, exists)
}

// joinBeforeDelete admits another member just before the room document is
// deleted, once.
type joinBeforeDelete struct {
	store.Store
	key   string
	once  sync.Once
	admit func()
}

func (j *joinBeforeDelete) CompareAndDelete(ctx context.Context, key string, version uint64) error {
	if key == j.key {
		j.once.Do(j.admit)
	}
	return j.Store.CompareAndDelete(ctx, key, version)
}

func (j *joinBeforeDelete) Delete(ctx context.Context, key string) error {
	if key == j.key {
		j.once.Do(j.admit)
	}
	return j.Store.Delete(ctx, key)
}

func TestLeaveKeepsRoomJoinedConcurrently(t *testing.T) {
	ctx := context.Background()
	base := store.NewMemory()
	reg, err := registry.New(base, nullLogger())
	require.NoError(t, err)
	_, err = reg.Create(ctx, "ABC123")
	require.NoError(t, err)

	racing := &joinBeforeDelete{Store: base, key: registry.RoomKey("ABC123")}
	f := newFixture(t, racing)
	var admitErr error
	racing.admit = func() {
		_, admitErr = f.coord.Admit(ctx, "ABC123", models.Member{ID: "late", Name: "Late Heron"})
	}

	c, _ := f.client(t, "c1", nil, true)
	_, err = c.Join(ctx, "ABC123", JoinOptions{})
	require.NoError(t, err)
	c.Leave(ctx, "ABC123")
	require.NoError(t, admitErr)

	exists, err := f.reg.Exists(ctx, "ABC123")
	require.NoError(t, err)
	require.True(t, exists)
	members, err := f.coord.Members(ctx, "ABC123")
	require.NoError(t, err)
	var late models.Member
	for _, m := range members {
		if m.ID == "late" {
			late = m
		}
	}
	assert.True(t, late.Online)
}

type snapshotObserver struct {
	nopObserver
	seen    chan []models.Member
	removed chan error
}

func (o *snapshotObserver) MembersChanged(_ string, ms []models.Member) {
	select {
	case o.seen <- ms:
	default:
	}
}

func (o *snapshotObserver) Removed(_ string, err error) { o.removed <- err }

// evictingMessages marks everyone offline while the join is still being set
// up, and waits until the client has seen that snapshot.
type evictingMessages struct {
	coord *Coordinator
	obs   *snapshotObserver
}

func (e *evictingMessages) Watch(code string, fn func([]models.Message)) (func(), error) {
	ctx := context.Background()
	ms, err := e.coord.Members(ctx, code)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if err := e.coord.MarkOffline(ctx, code, m.ID); err != nil {
			return nil, err
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-e.obs.seen:
			online := false
			for _, m := range snap {
				online = online || m.Online
			}
			if !online {
				return func() {}, nil
			}
		case <-deadline:
			return nil, errors.New("offline snapshot never arrived")
		}
	}
}

func TestEvictedWhileJoiningIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "ABC123")
	obs := &snapshotObserver{seen: make(chan []models.Member, 16), removed: make(chan error, 1)}
	conn := store.NewConn(f.store, "c1", nullLogger())
	c := NewClient(ClientConfig{
		Coordinator: f.coord,
		Registry:    f.reg,
		Messages:    &evictingMessages{coord: f.coord, obs: obs},
		Conn:        conn,
		Observer:    obs,
		Log:         nullLogger(),
	})
	t.Cleanup(c.Detach)

	_, err := c.Join(ctx, "ABC123", JoinOptions{})
	require.ErrorIs(t, err, ErrForcedRemoval)
	assert.Equal(t, Left, c.Phase())
	assert.Zero(t, conn.Armed())
	assert.ErrorIs(t, <-obs.removed, ErrForcedRemoval)
	assert.ErrorIs(t, c.Heartbeat(ctx), ErrNotConnected)
}

func TestSwitchRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "AAA111", "BBB222")
	c, conn := f.client(t, "c1", nil, false)

	_, err := c.Join(ctx, "AAA111", JoinOptions{})
	require.NoError(t, err)
	_, err = c.Join(ctx, "BBB222", JoinOptions{})
	require.NoError(t, err)

	n, err := f.coord.OnlineCount(ctx, "AAA111")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, code, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, "BBB222", code)
	assert.Equal(t, 1, conn.Armed())
}

func TestForcedRemoval(t *testing.T) {
	tests := []struct {
		name  string
		evict func(f *fixture, id string) error
	}{
		{"deleted", func(f *fixture, id string) error {
			return f.coord.Remove(context.Background(), "ABC123", id)
		}},
		{"marked offline", func(f *fixture, id string) error {
			return f.coord.MarkOffline(context.Background(), "ABC123", id)
		}},
		{"room deleted", func(f *fixture, _ string) error {
			return f.reg.Delete(context.Background(), "ABC123")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, "ABC123")
			rec := newRecorder()
			c, conn := f.client(t, "c1", rec, false)
			m, err := c.Join(context.Background(), "ABC123", JoinOptions{})
			require.NoError(t, err)

			require.NoError(t, tt.evict(f, m.ID))

			select {
			case err := <-rec.removed:
				assert.ErrorIs(t, err, ErrForcedRemoval)
			case <-time.After(2 * time.Second):
				t.Fatal("removal not observed")
			}
			assert.Equal(t, Left, c.Phase())
			assert.Zero(t, conn.Armed())
			assert.ErrorIs(t, c.Heartbeat(context.Background()), ErrNotConnected)
		})
	}
}

// gatedStore lets the first write to key land, then holds the caller until
// release is closed.
type gatedStore struct {
	store.Store
	key       string
	once      sync.Once
	committed chan struct{}
	release   chan struct{}
}

func (g *gatedStore) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (uint64, error) {
	first := false
	if key == g.key {
		g.once.Do(func() { first = true })
	}
	if !first {
		return g.Store.CompareAndSwap(ctx, key, version, value)
	}
	ver, err := g.Store.CompareAndSwap(context.Background(), key, version, value)
	close(g.committed)
	<-g.release
	return ver, err
}

func newGated(t *testing.T, codes ...string) (*fixture, *gatedStore) {
	base := store.NewMemory()
	reg, err := registry.New(base, nullLogger())
	require.NoError(t, err)
	for _, code := range codes {
		_, err := reg.Create(context.Background(), code)
		require.NoError(t, err)
	}
	g := &gatedStore{
		Store:     base,
		key:       registry.RoomKey(codes[0]),
		committed: make(chan struct{}),
		release:   make(chan struct{}),
	}
	return newFixture(t, g), g
}

func TestSupersededJoinCleansUp(t *testing.T) {
	ctx := context.Background()
	f, g := newGated(t, "AAA111", "BBB222")
	c, conn := f.client(t, "c1", nil, false)

	done := make(chan error, 1)
	go func() {
		_, err := c.Join(ctx, "AAA111", JoinOptions{})
		done <- err
	}()
	<-g.committed

	m, err := c.Join(ctx, "BBB222", JoinOptions{})
	require.NoError(t, err)
	close(g.release)

	require.ErrorIs(t, <-done, ErrSuperseded)
	require.Eventually(t, func() bool {
		ms, err := f.coord.Members(ctx, "AAA111")
		return err == nil && len(ms) == 0
	}, 2*time.Second, 10*time.Millisecond)

	self, code, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, "BBB222", code)
	assert.Equal(t, m.ID, self.ID)
	assert.Equal(t, 1, conn.Armed())
}

func TestLeaveSupersedesInFlightJoin(t *testing.T) {
	ctx := context.Background()
	f, g := newGated(t, "AAA111")
	c, conn := f.client(t, "c1", nil, false)

	done := make(chan error, 1)
	go func() {
		_, err := c.Join(ctx, "AAA111", JoinOptions{})
		done <- err
	}()
	<-g.committed
	c.Leave(ctx, "AAA111")
	close(g.release)

	err := <-done
	require.True(t, errors.Is(err, ErrSuperseded), "got %v", err)
	require.Eventually(t, func() bool {
		ms, err := f.coord.Members(ctx, "AAA111")
		return err == nil && len(ms) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, conn.Armed())
	assert.NotEqual(t, Joined, c.Phase())
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "ABC123")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.coord.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	c, _ := f.client(t, "c1", nil, false)
	assert.ErrorIs(t, c.Heartbeat(ctx), ErrNotConnected)

	m, err := c.Join(ctx, "ABC123", JoinOptions{})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(3 * time.Minute)
	mu.Unlock()
	require.NoError(t, c.Heartbeat(ctx))

	members, err := f.coord.Members(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, m.ID, members[0].ID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 3, 0, 0, time.UTC), members[0].LastSeen)
}

func TestJoinAfterDisconnect(t *testing.T) {
	f := newFixture(t, nil, "ABC123")
	c, conn := f.client(t, "c1", nil, false)
	require.NoError(t, conn.Disconnect(context.Background()))

	_, err := c.Join(context.Background(), "ABC123", JoinOptions{})
	assert.ErrorIs(t, err, store.ErrDisconnected)
	assert.Eventually(t, func() bool {
		ms, err := f.coord.Members(context.Background(), "ABC123")
		return err == nil && len(ms) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
