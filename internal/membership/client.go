package membership

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

type Phase int

const (
	Idle Phase = iota
	Joining
	Joined
	Leaving
	Left
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// Observer receives room updates for the client's current join. Calls come
// from watcher goroutines and never while the client holds its lock.
type Observer interface {
	MembersChanged(code string, members []models.Member)
	MessagesChanged(code string, messages []models.Message)
	Removed(code string, err error)
}

// MessageWatcher follows a room's message log.
type MessageWatcher interface {
	Watch(code string, fn func([]models.Message)) (stop func(), err error)
}

type JoinOptions struct {
	// MemberID reuses an identity, e.g. after a reconnect. Empty generates one.
	MemberID string
	// Name is the display name. Empty generates one.
	Name string
}

type ClientConfig struct {
	Coordinator *Coordinator
	Registry    *registry.Registry
	Messages    MessageWatcher
	Conn        *store.Conn
	Observer    Observer
	Log         logrus.FieldLogger
	// DeleteEmptyRooms removes a room once a graceful leave leaves it with no
	// online members.
	DeleteEmptyRooms bool
}

// Client is one participant's view of membership: at most one room at a
// time, moving Idle -> Joining -> Joined -> Leaving -> Left.
type Client struct {
	coord       *Coordinator
	rooms       *registry.Registry
	messages    MessageWatcher
	conn        *store.Conn
	obs         Observer
	log         logrus.FieldLogger
	deleteEmpty bool

	mu          sync.Mutex
	phase       Phase
	attempt     uint64
	cancelJoin  context.CancelFunc
	joiningCode string
	code        string
	self        models.Member
	hook        *store.DisconnectOp
	stops       []func()
	// gone is the attempt whose latest snapshot, seen while still joining,
	// had us absent or offline.
	gone uint64
}

func NewClient(cfg ClientConfig) *Client {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Client{
		coord:       cfg.Coordinator,
		rooms:       cfg.Registry,
		messages:    cfg.Messages,
		conn:        cfg.Conn,
		obs:         obs,
		log:         log.WithField("conn", cfg.Conn.ID()),
		deleteEmpty: cfg.DeleteEmptyRooms,
	}
}

func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Identity returns the member and room of the current join.
func (c *Client) Identity() (models.Member, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Joined {
		return models.Member{}, "", false
	}
	return c.self, c.code, true
}

// Join admits the client to code. Joining the room it is already in is a
// no-op; joining another room leaves the current one first. A newer Join or
// Leave supersedes this one, which then returns ErrSuperseded and cleans up
// anything it already wrote.
func (c *Client) Join(ctx context.Context, code string, opts JoinOptions) (models.Member, error) {
	code = registry.Normalize(code)

	c.mu.Lock()
	if c.phase == Joined && c.code == code {
		self := c.self
		c.mu.Unlock()
		return self, nil
	}
	prev, joinedElsewhere := c.code, c.phase == Joined
	c.mu.Unlock()

	if joinedElsewhere {
		c.Leave(ctx, prev)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancelJoin != nil {
		c.cancelJoin()
	}
	c.attempt++
	attempt := c.attempt
	c.cancelJoin = cancel
	c.joiningCode = code
	c.phase = Joining
	c.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{"room": code, "attempt": attempt})

	exists, err := c.rooms.Exists(ctx, code)
	if err != nil {
		return models.Member{}, c.failJoin(attempt, err)
	}
	if !exists {
		return models.Member{}, c.failJoin(attempt, ErrRoomNotFound)
	}

	id := opts.MemberID
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return models.Member{}, c.failJoin(attempt, err)
		}
		id = u.String()
	}
	name := opts.Name
	if name == "" {
		name = RandomName()
	}

	member, err := c.coord.Admit(ctx, code, models.Member{ID: id, Name: name})
	if err != nil {
		if c.stale(attempt) && opts.MemberID == "" {
			// the write may have landed before the cancel
			c.removeOrphan(code, id)
		}
		return models.Member{}, c.failJoin(attempt, err)
	}
	if c.stale(attempt) {
		c.removeOrphan(code, member.ID)
		return models.Member{}, c.failJoin(attempt, ErrSuperseded)
	}

	hook, err := c.conn.OnDisconnect(registry.RoomKey(code), c.coord.OfflineMutation(member.ID))
	if err != nil {
		c.removeOrphan(code, member.ID)
		return models.Member{}, c.failJoin(attempt, err)
	}

	stopMembers, err := c.coord.WatchMembers(code, func(ms []models.Member, exists bool) {
		c.onMembers(attempt, code, member.ID, ms, exists)
	})
	if err != nil {
		hook.Cancel()
		c.removeOrphan(code, member.ID)
		return models.Member{}, c.failJoin(attempt, registry.Unavailable(err))
	}
	stopMessages, err := c.messages.Watch(code, func(msgs []models.Message) {
		c.onMessages(attempt, code, msgs)
	})
	if err != nil {
		stopMembers()
		hook.Cancel()
		c.removeOrphan(code, member.ID)
		return models.Member{}, c.failJoin(attempt, registry.Unavailable(err))
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		stopMembers()
		stopMessages()
		hook.Cancel()
		c.removeOrphan(code, member.ID)
		return models.Member{}, ErrSuperseded
	}
	if c.gone == attempt {
		c.attempt++
		c.clearLocked(Left)
		c.mu.Unlock()
		stopMembers()
		stopMessages()
		hook.Cancel()
		log.WithField("member", member.ID).Info("removed from room before join completed")
		c.obs.Removed(code, ErrForcedRemoval)
		return models.Member{}, ErrForcedRemoval
	}
	c.phase = Joined
	c.code = code
	c.self = member
	c.hook = hook
	c.stops = []func(){stopMembers, stopMessages}
	c.joiningCode = ""
	c.cancelJoin = nil
	c.mu.Unlock()

	log.WithField("member", member.ID).Info("joined room")
	return member, nil
}

func (c *Client) stale(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt != attempt
}

// failJoin resets the joining state if attempt is still current and maps
// errors caused by being superseded.
func (c *Client) failJoin(attempt uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return ErrSuperseded
	}
	c.phase = Idle
	c.joiningCode = ""
	c.cancelJoin = nil
	return err
}

// removeOrphan deletes an entry written by a join that lost its claim.
func (c *Client) removeOrphan(code, id string) {
	log := c.log.WithFields(logrus.Fields{"room": code, "member": id})
	go func() {
		if err := c.coord.Remove(context.Background(), code, id); err != nil {
			log.WithError(err).Warn("orphan cleanup failed")
			return
		}
		log.Debug("orphaned member entry removed")
	}()
}

// Leave gives up the client's place in code. It never fails: write errors
// are logged and local state is cleared regardless.
func (c *Client) Leave(ctx context.Context, code string) {
	code = registry.Normalize(code)

	c.mu.Lock()
	if c.phase == Joining && c.joiningCode == code {
		c.attempt++
		if c.cancelJoin != nil {
			c.cancelJoin()
		}
		c.cancelJoin = nil
		c.joiningCode = ""
		c.phase = Left
	}
	if c.phase != Joined || c.code != code {
		var stops []func()
		if c.phase != Joined {
			stops = c.stops
			c.stops = nil
		}
		c.mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		return
	}
	c.attempt++
	hook, stops, self := c.hook, c.stops, c.self
	c.clearLocked(Leaving)
	c.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{"room": code, "member": self.ID})

	hook.Cancel()
	for _, stop := range stops {
		stop()
	}
	if err := c.coord.MarkOffline(ctx, code, self.ID); err != nil {
		log.WithError(err).Warn("leave write failed")
	}

	c.mu.Lock()
	if c.phase == Leaving {
		c.phase = Left
	}
	c.mu.Unlock()
	log.Info("left room")

	if c.deleteEmpty {
		if _, err := c.rooms.DeleteIfIdle(ctx, code, registry.NoneOnline); err != nil {
			log.WithError(err).Warn("empty room cleanup failed")
		}
	}
}

// Heartbeat refreshes lastSeen for the current join.
func (c *Client) Heartbeat(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return ErrNotConnected
	}
	code, id := c.code, c.self.ID
	c.mu.Unlock()
	return c.coord.Touch(ctx, code, id)
}

// Detach drops local state when the transport goes away. The disconnect
// hook stays armed so the connection's Disconnect marks the member offline.
func (c *Client) Detach() {
	c.mu.Lock()
	c.attempt++
	if c.cancelJoin != nil {
		c.cancelJoin()
	}
	stops := c.stops
	c.clearLocked(Left)
	c.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// clearLocked requires c.mu.
func (c *Client) clearLocked(phase Phase) {
	c.phase = phase
	c.code = ""
	c.self = models.Member{}
	c.hook = nil
	c.stops = nil
	c.joiningCode = ""
	c.cancelJoin = nil
}

func (c *Client) onMembers(attempt uint64, code, selfID string, members []models.Member, exists bool) {
	present := false
	for _, m := range members {
		if m.ID == selfID && m.Online {
			present = true
			break
		}
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	if c.phase != Joined || c.code != code {
		// still joining: the commit checks what we saw here
		if exists && present {
			if c.gone == attempt {
				c.gone = 0
			}
		} else {
			c.gone = attempt
		}
		c.mu.Unlock()
		if exists {
			c.obs.MembersChanged(code, members)
		}
		return
	}

	if exists && present {
		c.mu.Unlock()
		c.obs.MembersChanged(code, members)
		return
	}

	// removed by someone else: no leave write, just let go
	c.attempt++
	hook, stops, self := c.hook, c.stops, c.self
	c.clearLocked(Left)
	c.mu.Unlock()

	hook.Cancel()
	for _, stop := range stops {
		stop()
	}
	c.log.WithFields(logrus.Fields{"room": code, "member": self.ID}).Info("removed from room")
	c.obs.Removed(code, ErrForcedRemoval)
}

func (c *Client) onMessages(attempt uint64, code string, msgs []models.Message) {
	c.mu.Lock()
	current := c.attempt == attempt
	c.mu.Unlock()
	if current {
		c.obs.MessagesChanged(code, msgs)
	}
}

type nopObserver struct{}

func (nopObserver) MembersChanged(string, []models.Member)   {}
func (nopObserver) MessagesChanged(string, []models.Message) {}
func (nopObserver) Removed(string, error)                    {}
