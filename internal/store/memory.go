package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Versions come from one global counter so a
// deleted and recreated key never reuses an old version.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]Entry
	seq      uint64
	closed   bool
	notifier *Notifier
}

func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]Entry),
		notifier: NewNotifier(),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	e, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Value = clone(e.Value)
	return e, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Entry
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) {
			e.Value = clone(e.Value)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	ver := m.write(key, value)
	m.mu.Unlock()
	m.notifier.Publish(key, OpPut)
	return ver, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.data[key].Version != version {
		m.mu.Unlock()
		return 0, ErrConflict
	}
	ver := m.write(key, value)
	m.mu.Unlock()
	m.notifier.Publish(key, OpPut)
	return ver, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key string, version uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	e, ok := m.data[key]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if e.Version != version {
		m.mu.Unlock()
		return ErrConflict
	}
	delete(m.data, key)
	m.mu.Unlock()
	m.notifier.Publish(key, OpDelete)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, ok := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	if ok {
		m.notifier.Publish(key, OpDelete)
	}
	return nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var removed []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			removed = append(removed, k)
		}
	}
	m.mu.Unlock()
	for _, k := range removed {
		m.notifier.Publish(k, OpDelete)
	}
	return nil
}

func (m *Memory) Watch(ctx context.Context, prefix string) (Watcher, error) {
	return m.notifier.Subscribe(ctx, prefix)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notifier.Close()
	return nil
}

// write requires m.mu.
func (m *Memory) write(key string, value []byte) uint64 {
	m.seq++
	m.data[key] = Entry{Key: key, Value: clone(value), Version: m.seq}
	return m.seq
}
