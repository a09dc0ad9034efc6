// Package store is the transactional key-value layer every room, member and
// message write goes through. Backends provide point reads, prefix listing,
// version-checked writes and change notifications; Transact builds the
// optimistic read-modify-write protocol on top of them.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrConflict is returned when a version check fails.
	ErrConflict = errors.New("store: version conflict")

	// ErrAbort is returned by a TxFunc to stop a transaction without writing.
	ErrAbort = errors.New("store: transaction aborted by caller")

	// ErrAborted is returned by Transact when the caller aborted against data
	// that did not change underneath it.
	ErrAborted = errors.New("store: transaction aborted")

	// ErrTooManyRetries is returned by Transact when every attempt lost a race.
	ErrTooManyRetries = errors.New("store: too many transaction retries")

	// ErrDisconnected is returned when arming a hook on a closed connection.
	ErrDisconnected = errors.New("store: connection already disconnected")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("store: closed")
)

// Entry is a stored value together with its version. Version 0 means absent.
type Entry struct {
	Key     string
	Value   []byte
	Version uint64
}

type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "del"
)

// Event reports that a key changed. Consumers re-read what they care about;
// events may be coalesced.
type Event struct {
	Key string
	Op  Op
}

type Watcher interface {
	Events() <-chan Event
	Stop()
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	// CompareAndSwap writes value only if the key is at version. Version 0
	// requires the key to be absent.
	CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (uint64, error)
	CompareAndDelete(ctx context.Context, key string, version uint64) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// Watch reports changes to keys under prefix until ctx is done or Stop
	// is called.
	Watch(ctx context.Context, prefix string) (Watcher, error)
	Close() error
}
