// Package redisstore keeps store entries as Redis hashes. Version checks use
// WATCH/MULTI and every write is published so watchers on any node see it.
package redisstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"huddle/internal/store"
)

const (
	fieldValue   = "v"
	fieldVersion = "ver"
	scanCount    = 100
	watchBuffer  = 64
)

type Store struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

// New wraps client. Keys are namespaced under prefix, e.g. "huddle:".
func New(client *redis.Client, prefix string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{client: client, prefix: prefix, log: log.WithField("store", "redis")}
}

func (s *Store) dataKey(key string) string { return s.prefix + "kv:" + key }
func (s *Store) eventKey(key string) string { return s.prefix + "events:" + key }
func (s *Store) seqKey() string             { return s.prefix + "seq" }

func (s *Store) Get(ctx context.Context, key string) (store.Entry, error) {
	return s.get(ctx, s.client, key)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *Store) get(ctx context.Context, c hashReader, key string) (store.Entry, error) {
	m, err := c.HGetAll(ctx, s.dataKey(key)).Result()
	if err != nil {
		return store.Entry{}, err
	}
	return decode(key, m)
}

func decode(key string, m map[string]string) (store.Entry, error) {
	raw, ok := m[fieldVersion]
	if !ok {
		return store.Entry{}, store.ErrNotFound
	}
	ver, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return store.Entry{}, err
	}
	return store.Entry{Key: key, Value: []byte(m[fieldValue]), Version: ver}, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]store.Entry, 0, len(keys))
	for _, k := range keys {
		e, err := s.Get(ctx, k)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// scan returns logical keys under prefix.
func (s *Store) scan(ctx context.Context, prefix string) ([]string, error) {
	base := s.dataKey("")
	pattern := escapeGlob(base+prefix) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, base))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *Store) nextVersion(ctx context.Context) (uint64, error) {
	n, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ver, err := s.nextVersion(ctx)
	if err != nil {
		return 0, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.dataKey(key), fieldValue, value, fieldVersion, ver)
		pipe.Publish(ctx, s.eventKey(key), string(store.OpPut))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (uint64, error) {
	ver, err := s.nextVersion(ctx)
	if err != nil {
		return 0, err
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if version != 0 {
				return store.ErrConflict
			}
		case err != nil:
			return err
		case cur.Version != version:
			return store.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.dataKey(key), fieldValue, value, fieldVersion, ver)
			pipe.Publish(ctx, s.eventKey(key), string(store.OpPut))
			return nil
		})
		return err
	}, s.dataKey(key))
	if errors.Is(err, redis.TxFailedErr) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, version uint64) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Version != version {
			return store.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.dataKey(key))
			pipe.Publish(ctx, s.eventKey(key), string(store.OpDelete))
			return nil
		})
		return err
	}, s.dataKey(key))
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.dataKey(key)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return s.client.Publish(ctx, s.eventKey(key), string(store.OpDelete)).Err()
	}
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Watcher, error) {
	ps := s.client.PSubscribe(ctx, escapeGlob(s.eventKey(prefix))+"*")
	// wait for the subscription to be confirmed so no write is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	w := &watcher{ps: ps, events: make(chan store.Event, watchBuffer), done: make(chan struct{})}
	base := s.eventKey("")
	go func() {
		defer close(w.events)
		defer s.log.WithField("prefix", prefix).Debug("watch stopped")
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				w.Stop()
				return
			case <-w.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev := store.Event{Key: strings.TrimPrefix(msg.Channel, base), Op: store.Op(msg.Payload)}
				select {
				case w.events <- ev:
				default:
				}
			}
		}
	}()
	return w, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

type watcher struct {
	ps     *redis.PubSub
	events chan store.Event
	done   chan struct{}
	once   sync.Once
}

func (w *watcher) Events() <-chan store.Event { return w.events }

func (w *watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.ps.Close()
	})
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
