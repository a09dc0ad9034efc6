// Package membership admits members to rooms under a capacity limit and
// tracks each client's place in a room. All writes to the shared room
// document are optimistic transactions; there is no central lock.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

type Config struct {
	// Capacity is the maximum number of online members per room.
	Capacity int
	// MaxRetries bounds the join transaction.
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{Capacity: 8, MaxRetries: 25}
}

// Coordinator is shared by every client of a process.
type Coordinator struct {
	store store.Store
	cfg   Config
	now   func() time.Time
	log   logrus.FieldLogger
}

func NewCoordinator(s store.Store, cfg Config, log logrus.FieldLogger) *Coordinator {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		store: s,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithField("component", "membership"),
	}
}

// WithClock replaces the clock used for lastSeen.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) Config() Config { return c.cfg }

// update runs fn against the room document inside a transaction.
func (c *Coordinator) update(ctx context.Context, code string, fn func(*models.Room) error) (models.Room, error) {
	var out models.Room
	_, err := store.Transact(ctx, c.store, registry.RoomKey(code), c.cfg.MaxRetries, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrRoomNotFound
		}
		room, err := models.DecodeRoom(cur)
		if err != nil {
			return nil, err
		}
		if err := fn(&room); err != nil {
			return nil, err
		}
		out = room
		return models.EncodeRoom(room)
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, store.ErrAborted),
		errors.Is(err, store.ErrTooManyRetries),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return models.Room{}, err
	default:
		return models.Room{}, registry.Unavailable(err)
	}
}

func (c *Coordinator) room(ctx context.Context, code string) (models.Room, error) {
	e, err := c.store.Get(ctx, registry.RoomKey(code))
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, registry.Unavailable(err)
	}
	return models.DecodeRoom(e.Value)
}

// Admit writes m as an online member unless that would put the room over
// capacity. A member already online under the same id is not counted, so
// re-admitting is idempotent. The commit is confirmed with a fresh read.
func (c *Coordinator) Admit(ctx context.Context, code string, m models.Member) (models.Member, error) {
	log := c.log.WithFields(logrus.Fields{"room": code, "member": m.ID})

	var admitted models.Member
	_, err := c.update(ctx, code, func(room *models.Room) error {
		if room.OnlineCount(m.ID)+1 > c.cfg.Capacity {
			return store.ErrAbort
		}
		next := m
		if prev, ok := room.Members[m.ID]; ok && next.Name == "" {
			next.Name = prev.Name
		}
		next.Online = true
		next.LastSeen = c.now()
		room.Members[m.ID] = next
		admitted = next
		return nil
	})
	switch {
	case errors.Is(err, store.ErrAborted):
		log.Debug("room full")
		return models.Member{}, ErrRoomFull
	case errors.Is(err, store.ErrTooManyRetries):
		log.Warn("join gave up after retries")
		return models.Member{}, ErrJoinContention
	case err != nil:
		return models.Member{}, err
	}

	room, err := c.room(ctx, code)
	if err == nil {
		if got, ok := room.Members[m.ID]; ok && got.Online {
			return admitted, nil
		}
	}
	log.WithError(err).Warn("committed join not visible, cleaning up")
	if rerr := c.Remove(context.WithoutCancel(ctx), code, m.ID); rerr != nil {
		log.WithError(rerr).Warn("cleanup after inconsistent join failed")
	}
	if err != nil {
		return models.Member{}, fmt.Errorf("%w: %w", ErrJoinInconsistent, err)
	}
	return models.Member{}, ErrJoinInconsistent
}

// MarkOffline flags a member offline. Missing rooms and members are ignored.
func (c *Coordinator) MarkOffline(ctx context.Context, code, id string) error {
	_, err := c.update(ctx, code, func(room *models.Room) error {
		m, ok := room.Members[id]
		if !ok {
			return store.ErrAbort
		}
		m.Online = false
		m.LastSeen = c.now()
		room.Members[id] = m
		return nil
	})
	if errors.Is(err, store.ErrAborted) || errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

// Touch refreshes lastSeen for an online member.
func (c *Coordinator) Touch(ctx context.Context, code, id string) error {
	_, err := c.update(ctx, code, func(room *models.Room) error {
		m, ok := room.Members[id]
		if !ok || !m.Online {
			return ErrNotConnected
		}
		m.LastSeen = c.now()
		room.Members[id] = m
		return nil
	})
	return err
}

// Remove deletes member entries outright.
func (c *Coordinator) Remove(ctx context.Context, code string, ids ...string) error {
	_, err := c.update(ctx, code, func(room *models.Room) error {
		n := 0
		for _, id := range ids {
			if _, ok := room.Members[id]; ok {
				delete(room.Members, id)
				n++
			}
		}
		if n == 0 {
			return store.ErrAbort
		}
		return nil
	})
	if errors.Is(err, store.ErrAborted) || errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

func (c *Coordinator) Members(ctx context.Context, code string) ([]models.Member, error) {
	room, err := c.room(ctx, code)
	if err != nil {
		return nil, err
	}
	return room.MemberList(), nil
}

func (c *Coordinator) OnlineCount(ctx context.Context, code string) (int, error) {
	room, err := c.room(ctx, code)
	if err != nil {
		return 0, err
	}
	return room.OnlineCount(), nil
}

// OfflineMutation is the transaction armed as a disconnect hook: it flags
// the member offline if it is still there.
func (c *Coordinator) OfflineMutation(id string) store.TxFunc {
	return func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, store.ErrAbort
		}
		room, err := models.DecodeRoom(cur)
		if err != nil {
			return nil, err
		}
		m, ok := room.Members[id]
		if !ok {
			return nil, store.ErrAbort
		}
		m.Online = false
		m.LastSeen = c.now()
		room.Members[id] = m
		return models.EncodeRoom(room)
	}
}

// WatchMembers calls fn with the member list now and after every change.
// exists is false once the room is gone.
func (c *Coordinator) WatchMembers(code string, fn func(members []models.Member, exists bool)) (stop func(), err error) {
	return store.Observe(c.store, registry.RoomKey(code), func(ctx context.Context) {
		room, err := c.room(ctx, code)
		if errors.Is(err, ErrRoomNotFound) {
			fn(nil, false)
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).WithField("room", code).Warn("member snapshot failed")
			}
			return
		}
		fn(room.MemberList(), true)
	})
}
