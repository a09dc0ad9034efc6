package store

import (
	"context"
	"strings"
	"sync"
)

const watchBuffer = 64

// Notifier fans change events out to in-process watchers. Backends without a
// native change feed publish through it after every successful write.
type Notifier struct {
	mu     sync.Mutex
	subs   map[*localWatcher]struct{}
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[*localWatcher]struct{})}
}

// Publish never blocks. A watcher with a full buffer already has a pending
// event and will re-read anyway, so the extra event is dropped.
func (n *Notifier) Publish(key string, op Op) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for w := range n.subs {
		if !strings.HasPrefix(key, w.prefix) {
			continue
		}
		select {
		case w.events <- Event{Key: key, Op: op}:
		default:
		}
	}
}

func (n *Notifier) Subscribe(ctx context.Context, prefix string) (Watcher, error) {
	w := &localWatcher{
		n:      n,
		prefix: prefix,
		events: make(chan Event, watchBuffer),
		done:   make(chan struct{}),
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.subs[w] = struct{}{}
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()
	return w, nil
}

// Close stops every watcher.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	subs := n.subs
	n.subs = make(map[*localWatcher]struct{})
	n.mu.Unlock()
	for w := range subs {
		w.finish()
	}
}

type localWatcher struct {
	n      *Notifier
	prefix string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (w *localWatcher) Events() <-chan Event { return w.events }

func (w *localWatcher) Stop() {
	w.n.mu.Lock()
	delete(w.n.subs, w)
	w.n.mu.Unlock()
	w.finish()
}

// finish must only run once w is no longer in n.subs.
func (w *localWatcher) finish() {
	w.once.Do(func() {
		close(w.done)
		close(w.events)
	})
}
