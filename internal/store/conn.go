package store

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultHookRetries = 25

// Conn scopes disconnect hooks to one client connection. Hooks are
// transactions armed while the client is alive and run once when the
// connection drops, unless cancelled first.
type Conn struct {
	id         string
	s          Store
	maxRetries int
	log        logrus.FieldLogger

	mu     sync.Mutex
	hooks  map[*DisconnectOp]struct{}
	closed bool
}

type DisconnectOp struct {
	c   *Conn
	key string
	fn  TxFunc
}

func NewConn(s Store, id string, log logrus.FieldLogger) *Conn {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Conn{
		id:         id,
		s:          s,
		maxRetries: defaultHookRetries,
		log:        log.WithField("conn", id),
		hooks:      make(map[*DisconnectOp]struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// OnDisconnect arms fn to run against key when the connection drops.
func (c *Conn) OnDisconnect(key string, fn TxFunc) (*DisconnectOp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisconnected
	}
	op := &DisconnectOp{c: c, key: key, fn: fn}
	c.hooks[op] = struct{}{}
	return op, nil
}

// Cancel disarms the hook. It reports whether the hook was still armed.
func (op *DisconnectOp) Cancel() bool {
	if op == nil {
		return false
	}
	op.c.mu.Lock()
	defer op.c.mu.Unlock()
	if _, ok := op.c.hooks[op]; !ok {
		return false
	}
	delete(op.c.hooks, op)
	return true
}

// Armed returns the number of hooks still waiting for a disconnect.
func (c *Conn) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hooks)
}

// Disconnect runs every armed hook exactly once. Calling it again is a no-op.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = make(map[*DisconnectOp]struct{})
	c.mu.Unlock()

	var errs []error
	for op := range hooks {
		_, err := Transact(ctx, c.s, op.key, c.maxRetries, op.fn)
		if err != nil && !errors.Is(err, ErrAborted) {
			c.log.WithError(err).WithField("key", op.key).Warn("disconnect hook failed")
			errs = append(errs, err)
			continue
		}
		c.log.WithField("key", op.key).Debug("disconnect hook fired")
	}
	return errors.Join(errs...)
}
