// Package registry creates, looks up, lists and deletes rooms.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"huddle/internal/models"
	"huddle/internal/store"
)

const (
	createAttempts = 5
	deleteRetries  = 10
)

type Registry struct {
	store   store.Store
	log     logrus.FieldLogger
	newCode func() string
	now     func() time.Time
}

func New(s store.Store, log logrus.FieldLogger) (*Registry, error) {
	gen, err := newCodeGenerator()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		store:   s,
		log:     log.WithField("component", "registry"),
		newCode: gen,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Exists has no side effects. Invalid codes simply do not exist.
func (r *Registry) Exists(ctx context.Context, code string) (bool, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return false, nil
	}
	_, err := r.store.Get(ctx, RoomKey(code))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, Unavailable(err)
	}
	return true, nil
}

func (r *Registry) Get(ctx context.Context, code string) (models.Room, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return models.Room{}, ErrRoomNotFound
	}
	e, err := r.store.Get(ctx, RoomKey(code))
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, Unavailable(err)
	}
	return models.DecodeRoom(e.Value)
}

// Create makes an empty room. The existence read gives a friendly early
// answer; the create-if-absent write is what actually decides a race.
func (r *Registry) Create(ctx context.Context, code string) (models.Room, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return models.Room{}, ErrInvalidCode
	}
	exists, err := r.Exists(ctx, code)
	if err != nil {
		return models.Room{}, err
	}
	if exists {
		return models.Room{}, ErrRoomAlreadyExists
	}

	room := models.NewRoom(code, r.now())
	b, err := models.EncodeRoom(room)
	if err != nil {
		return models.Room{}, err
	}
	if _, err := r.store.CompareAndSwap(ctx, RoomKey(code), 0, b); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return models.Room{}, ErrRoomAlreadyExists
		}
		return models.Room{}, Unavailable(err)
	}
	r.log.WithField("room", code).Info("room created")
	return room, nil
}

// CreateRandom creates a room under a freshly generated code.
func (r *Registry) CreateRandom(ctx context.Context) (models.Room, error) {
	var err error
	for i := 0; i < createAttempts; i++ {
		var room models.Room
		room, err = r.Create(ctx, r.newCode())
		if !errors.Is(err, ErrRoomAlreadyExists) {
			return room, err
		}
	}
	return models.Room{}, err
}

func (r *Registry) List(ctx context.Context) ([]models.Room, error) {
	entries, err := r.store.List(ctx, RoomPrefix)
	if err != nil {
		return nil, Unavailable(err)
	}
	rooms := make([]models.Room, 0, len(entries))
	for _, e := range entries {
		room, err := models.DecodeRoom(e.Value)
		if err != nil {
			r.log.WithError(err).WithField("key", e.Key).Warn("skipping unreadable room")
			continue
		}
		if room.Code == "" {
			room.Code = strings.TrimPrefix(e.Key, RoomPrefix)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// Delete removes a room and its messages. Deleting a missing room is fine.
func (r *Registry) Delete(ctx context.Context, code string) error {
	code = Normalize(code)
	if err := r.store.Delete(ctx, RoomKey(code)); err != nil {
		return Unavailable(err)
	}
	if err := r.store.DeletePrefix(ctx, MessagePrefix(code)); err != nil {
		return Unavailable(err)
	}
	r.log.WithField("room", code).Info("room deleted")
	return nil
}

// DeleteIfIdle removes the room and its messages only if idle holds for the
// document as read inside the transaction, so a member admitted in the
// meantime keeps the room alive. It reports whether the room was deleted.
func (r *Registry) DeleteIfIdle(ctx context.Context, code string, idle func(models.Room) bool) (bool, error) {
	code = Normalize(code)
	_, err := store.Transact(ctx, r.store, RoomKey(code), deleteRetries, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, store.ErrAbort
		}
		room, err := models.DecodeRoom(cur)
		if err != nil {
			return nil, err
		}
		if !idle(room) {
			return nil, store.ErrAbort
		}
		return nil, nil
	})
	if errors.Is(err, store.ErrAborted) {
		return false, nil
	}
	if err != nil {
		return false, Unavailable(err)
	}
	if err := r.store.DeletePrefix(ctx, MessagePrefix(code)); err != nil {
		return true, Unavailable(err)
	}
	r.log.WithField("room", code).Info("room deleted")
	return true, nil
}

// NoMembers is an idle test for DeleteIfIdle: the room holds no entries at all.
func NoMembers(room models.Room) bool { return len(room.Members) == 0 }

// NoneOnline is an idle test for DeleteIfIdle: nobody in the room is online.
func NoneOnline(room models.Room) bool { return room.OnlineCount() == 0 }
