package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when no room exists for a code.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomAlreadyExists is returned when creating a code that is taken.
	ErrRoomAlreadyExists = errors.New("room already exists")

	// ErrInvalidCode is returned for codes that are not 6 characters of [A-Z0-9].
	ErrInvalidCode = errors.New("invalid room code")

	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable
// and still see the cause.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
