// Package session is the per-client facade over rooms, membership and chat.
// It keeps an observable snapshot of what the client should see and pushes
// every change to a callback.
package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"huddle/internal/chat"
	"huddle/internal/membership"
	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

// State is the observable snapshot of a session.
type State struct {
	Phase     string           `json:"phase"`
	RoomCode  string           `json:"room_code,omitempty"`
	Identity  *models.Member   `json:"identity,omitempty"`
	Members   []models.Member  `json:"members"`
	Messages  []models.Message `json:"messages"`
	Loading   bool             `json:"loading"`
	LastError string           `json:"last_error,omitempty"`
	// Removed is set when the room dropped us, as opposed to a leave.
	Removed bool `json:"removed"`
}

type Deps struct {
	Store            store.Store
	Registry         *registry.Registry
	Coordinator      *membership.Coordinator
	Channel          *chat.Channel
	Log              logrus.FieldLogger
	DeleteEmptyRooms bool
}

type Session struct {
	id     string
	rooms  *registry.Registry
	chat   *chat.Channel
	conn   *store.Conn
	client *membership.Client
	log    logrus.FieldLogger

	mu       sync.Mutex
	state    State
	pending  string
	joinSeq  uint64
	onChange func(State)
}

// New creates a session for connection id. onChange may be nil; it must not
// block.
func New(id string, deps Deps, onChange func(State)) *Session {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("conn", id)
	s := &Session{
		id:       id,
		rooms:    deps.Registry,
		chat:     deps.Channel,
		conn:     store.NewConn(deps.Store, id, log),
		log:      log,
		state:    State{Phase: membership.Idle.String()},
		onChange: onChange,
	}
	s.client = membership.NewClient(membership.ClientConfig{
		Coordinator:      deps.Coordinator,
		Registry:         deps.Registry,
		Messages:         deps.Channel,
		Conn:             s.conn,
		Observer:         s,
		Log:              log,
		DeleteEmptyRooms: deps.DeleteEmptyRooms,
	})
	return s
}

func (s *Session) ID() string { return s.id }

// State returns a copy of the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Members = append([]models.Member(nil), s.state.Members...)
	st.Messages = append([]models.Message(nil), s.state.Messages...)
	if s.state.Identity != nil {
		id := *s.state.Identity
		st.Identity = &id
	}
	return st
}

// update mutates state and publishes the result. onChange runs under the
// lock so snapshots arrive in order; it must not call back into the session.
func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	if s.onChange != nil {
		s.onChange(s.snapshotLocked())
	}
}

// Identity returns the member and room of the current join.
func (s *Session) Identity() (models.Member, string, bool) {
	return s.client.Identity()
}

func (s *Session) CheckRoomExists(ctx context.Context, code string) (bool, error) {
	return s.rooms.Exists(ctx, code)
}

// CreateRoom creates code, or a generated code when code is empty.
func (s *Session) CreateRoom(ctx context.Context, code string) (models.Room, error) {
	if code == "" {
		return s.rooms.CreateRandom(ctx)
	}
	return s.rooms.Create(ctx, code)
}

// Join joins code and records the outcome in the state. A join overtaken by
// a newer one leaves the state alone.
func (s *Session) Join(ctx context.Context, code string, opts membership.JoinOptions) (models.Member, error) {
	code = registry.Normalize(code)

	s.mu.Lock()
	s.joinSeq++
	seq := s.joinSeq
	s.pending = code
	s.mu.Unlock()

	s.update(func(st *State) {
		st.Loading = true
		st.LastError = ""
		st.Removed = false
		if st.RoomCode != code {
			st.Members = nil
			st.Messages = nil
		}
	})

	m, err := s.client.Join(ctx, code, opts)

	s.update(func(st *State) {
		if s.joinSeq != seq {
			return
		}
		s.pending = ""
		st.Loading = false
		phase := s.client.Phase()
		st.Phase = phase.String()
		if err != nil {
			st.LastError = membership.Reason(err)
			st.RoomCode = ""
			st.Identity = nil
			st.Members = nil
			st.Messages = nil
			return
		}
		if phase != membership.Joined {
			// removed before we got here; Removed already updated the state
			return
		}
		st.RoomCode = code
		st.Identity = &m
	})
	if err != nil {
		s.log.WithError(err).WithField("room", code).Info("join failed")
	}
	return m, err
}

// JoinRoom reports success as a bool; the reason for a failure is in
// State().LastError.
func (s *Session) JoinRoom(ctx context.Context, code string) bool {
	_, err := s.Join(ctx, code, membership.JoinOptions{})
	return err == nil
}

// LeaveRoom never fails.
func (s *Session) LeaveRoom(ctx context.Context, code string) {
	code = registry.Normalize(code)
	s.mu.Lock()
	if s.pending == code {
		s.joinSeq++
		s.pending = ""
	}
	s.mu.Unlock()

	s.client.Leave(ctx, code)
	s.update(func(st *State) {
		if st.RoomCode != code && st.RoomCode != "" {
			return
		}
		st.Phase = s.client.Phase().String()
		st.RoomCode = ""
		st.Identity = nil
		st.Members = nil
		st.Messages = nil
		st.Loading = false
		st.Removed = false
	})
}

// SendMessage posts text to code. The session must be joined to code.
func (s *Session) SendMessage(ctx context.Context, code, text string) (models.Message, bool, error) {
	self, joined, ok := s.client.Identity()
	if !ok || joined != registry.Normalize(code) {
		return models.Message{}, false, membership.ErrNotConnected
	}
	msg, sent, err := s.chat.Send(ctx, joined, self, text)
	if err != nil {
		s.update(func(st *State) { st.LastError = membership.Reason(err) })
	}
	return msg, sent, err
}

func (s *Session) Heartbeat(ctx context.Context) error {
	return s.client.Heartbeat(ctx)
}

// Close drops local state and fires the connection's disconnect hooks.
func (s *Session) Close(ctx context.Context) error {
	s.client.Detach()
	return s.conn.Disconnect(ctx)
}

func (s *Session) accepts(code string) bool {
	return code == s.state.RoomCode || code == s.pending
}

func (s *Session) MembersChanged(code string, members []models.Member) {
	s.update(func(st *State) {
		if s.accepts(code) {
			st.Members = members
		}
	})
}

func (s *Session) MessagesChanged(code string, messages []models.Message) {
	s.update(func(st *State) {
		if s.accepts(code) {
			st.Messages = messages
		}
	})
}

func (s *Session) Removed(code string, err error) {
	s.log.WithField("room", code).Info("session removed from room")
	s.update(func(st *State) {
		if !s.accepts(code) {
			return
		}
		s.pending = ""
		st.Phase = membership.Left.String()
		st.RoomCode = ""
		st.Identity = nil
		st.Members = nil
		st.Messages = nil
		st.Removed = true
		st.LastError = membership.Reason(err)
	})
}
