package membership

import (
	"context"
	"errors"

	"huddle/internal/chat"
	"huddle/internal/registry"
	"huddle/internal/store"
)

var (
	ErrRoomNotFound     = registry.ErrRoomNotFound
	ErrStoreUnavailable = registry.ErrStoreUnavailable

	// ErrRoomFull is returned when the room already has its capacity of
	// online members.
	ErrRoomFull = errors.New("room is full")

	// ErrJoinContention is returned when the join transaction kept losing races.
	ErrJoinContention = errors.New("too many people joining at once")

	// ErrJoinInconsistent is returned when a committed join is not visible on
	// the verification read.
	ErrJoinInconsistent = errors.New("join could not be confirmed")

	// ErrNotConnected is returned for operations that need a joined room.
	ErrNotConnected = errors.New("not connected to room")

	// ErrForcedRemoval is reported when the member entry disappears or goes
	// offline while the client believes it is joined.
	ErrForcedRemoval = errors.New("removed from room")

	// ErrSuperseded is returned by a join overtaken by a newer join or leave.
	ErrSuperseded = errors.New("join superseded")
)

// Reason maps an error to a short sentence suitable for a user.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomNotFound):
		return "That room does not exist."
	case errors.Is(err, registry.ErrRoomAlreadyExists):
		return "A room with that code already exists."
	case errors.Is(err, registry.ErrInvalidCode):
		return "Room codes are 6 letters or digits."
	case errors.Is(err, chat.ErrMessageTooLong):
		return "Messages are limited to 2000 characters."
	case errors.Is(err, ErrRoomFull):
		return "The room is full."
	case errors.Is(err, ErrJoinContention):
		return "Too many people are joining right now, try again."
	case errors.Is(err, ErrJoinInconsistent):
		return "Could not confirm your spot in the room, try again."
	case errors.Is(err, ErrNotConnected):
		return "You are not connected to this room."
	case errors.Is(err, ErrForcedRemoval):
		return "You were removed from the room."
	case errors.Is(err, ErrSuperseded):
		return "Join cancelled."
	case errors.Is(err, store.ErrDisconnected):
		return "Connection closed."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out."
	case errors.Is(err, ErrStoreUnavailable):
		return "The service is unavailable, try again."
	default:
		return "Something went wrong."
	}
}
