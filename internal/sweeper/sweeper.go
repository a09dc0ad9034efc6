// Package sweeper reclaims member slots left behind by clients that went
// quiet, and removes rooms nobody uses.
package sweeper

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

const sweepRetries = 10

type Config struct {
	// Timeout is how long an offline member is kept.
	Timeout time.Duration
	// Interval between global sweeps. Zero means Timeout/2.
	Interval time.Duration
	// StuckMultiplier times Timeout is how long an online member may go
	// without a heartbeat.
	StuckMultiplier float64
	DeleteEmptyRooms bool
}

func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Minute, StuckMultiplier: 2, DeleteEmptyRooms: true}
}

// Result describes what one room sweep changed.
type Result struct {
	Code        string
	Removed     []string
	RoomDeleted bool
}

func (r Result) Changed() bool { return len(r.Removed) > 0 || r.RoomDeleted }

type Sweeper struct {
	store store.Store
	rooms *registry.Registry
	cfg   Config
	now   func() time.Time
	log   logrus.FieldLogger
}

func New(s store.Store, rooms *registry.Registry, cfg Config, log logrus.FieldLogger) *Sweeper {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.StuckMultiplier <= 1 {
		cfg.StuckMultiplier = def.StuckMultiplier
	}
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.Timeout / 2
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		store: s,
		rooms: rooms,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithField("component", "sweeper"),
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) Config() Config { return s.cfg }

// expired reports whether m is an offline member past Timeout or an online
// member past StuckMultiplier*Timeout.
func (s *Sweeper) expired(m models.Member, now time.Time) bool {
	elapsed := now.Sub(m.LastSeen)
	if !m.Online {
		return elapsed > s.cfg.Timeout
	}
	return elapsed > time.Duration(float64(s.cfg.Timeout)*s.cfg.StuckMultiplier)
}

// SweepRoom removes expired members of one room. Candidates are re-checked
// inside the transaction, so a member that heartbeats in the meantime stays.
func (s *Sweeper) SweepRoom(ctx context.Context, code string) (Result, error) {
	code = registry.Normalize(code)
	res := Result{Code: code}
	log := s.log.WithField("room", code)

	room, err := s.rooms.Get(ctx, code)
	if errors.Is(err, registry.ErrRoomNotFound) {
		return res, nil
	}
	if err != nil {
		return res, err
	}

	now := s.now()
	var candidates []string
	for id, m := range room.Members {
		if s.expired(m, now) {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) > 0 {
		var removed []string
		after := room
		_, err := store.Transact(ctx, s.store, registry.RoomKey(code), sweepRetries, func(cur []byte, exists bool) ([]byte, error) {
			removed = nil
			if !exists {
				return nil, store.ErrAbort
			}
			r, err := models.DecodeRoom(cur)
			if err != nil {
				return nil, err
			}
			for _, id := range candidates {
				if m, ok := r.Members[id]; ok && s.expired(m, now) {
					delete(r.Members, id)
					removed = append(removed, id)
				}
			}
			if len(removed) == 0 {
				return nil, store.ErrAbort
			}
			after = r
			return models.EncodeRoom(r)
		})
		switch {
		case errors.Is(err, store.ErrAborted):
			removed = nil
		case err != nil:
			return res, registry.Unavailable(err)
		}
		sort.Strings(removed)
		res.Removed = removed
		room = after
		if len(removed) > 0 {
			log.WithField("members", removed).Info("swept inactive members")
		}
	}

	if !s.cfg.DeleteEmptyRooms || len(room.Members) > 0 {
		return res, nil
	}
	if len(res.Removed) == 0 && now.Sub(room.CreatedAt) <= s.cfg.Timeout {
		return res, nil
	}
	deleted, err := s.rooms.DeleteIfIdle(ctx, code, registry.NoMembers)
	if err != nil {
		return res, err
	}
	res.RoomDeleted = deleted
	if deleted {
		log.Info("deleted empty room")
	}
	return res, nil
}

// SweepAll sweeps every room. A failing room is logged and skipped.
func (s *Sweeper) SweepAll(ctx context.Context) ([]Result, error) {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, room := range rooms {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := s.SweepRoom(ctx, room.Code)
		if err != nil {
			s.log.WithError(err).WithField("room", room.Code).Warn("room sweep failed")
			continue
		}
		if res.Changed() {
			out = append(out, res)
		}
	}
	return out, nil
}

// Run sweeps on every Interval tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.WithFields(logrus.Fields{"interval": s.cfg.Interval, "timeout": s.cfg.Timeout}).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			results, err := s.SweepAll(ctx)
			if err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("sweep failed")
				continue
			}
			if len(results) > 0 {
				s.log.WithField("rooms", len(results)).Debug("sweep done")
			}
		}
	}
}
