package store

import (
	"context"
	"errors"
)

// TxFunc computes the next value of a key from its current value. Returning
// nil deletes the key. Returning ErrAbort stops the transaction.
type TxFunc func(current []byte, exists bool) ([]byte, error)

// Transact runs fn as an optimistic transaction on key. Version conflicts are
// retried up to maxRetries times. When fn aborts, the key is read again: if it
// moved, fn gets another go against the new data, otherwise the abort is
// final and ErrAborted is returned.
func Transact(ctx context.Context, s Store, key string, maxRetries int, fn TxFunc) (Entry, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		cur, exists, err := read(ctx, s, key)
		if err != nil {
			return Entry{}, err
		}

		next, err := fn(clone(cur.Value), exists)
		if errors.Is(err, ErrAbort) {
			again, _, rerr := read(ctx, s, key)
			if rerr != nil {
				return Entry{}, rerr
			}
			if again.Version == cur.Version {
				return Entry{}, ErrAborted
			}
			continue
		}
		if err != nil {
			return Entry{}, err
		}

		if next == nil {
			if !exists {
				return Entry{Key: key}, nil
			}
			err := s.CompareAndDelete(ctx, key, cur.Version)
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return Entry{}, err
			}
			return Entry{Key: key}, nil
		}

		ver, err := s.CompareAndSwap(ctx, key, cur.Version, next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Entry{}, err
		}
		return Entry{Key: key, Value: next, Version: ver}, nil
	}
	return Entry{}, ErrTooManyRetries
}

func read(ctx context.Context, s Store, key string) (Entry, bool, error) {
	e, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Entry{Key: key}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
