package room

import (
	"errors"
	"net/http"

	"huddle/internal/chat"
	"huddle/internal/membership"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

// fail maps domain errors onto HTTP statuses.
func fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := membership.Reason(err)
	switch {
	case errors.Is(err, registry.ErrInvalidCode):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrMessageTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrRoomAlreadyExists), errors.Is(err, membership.ErrRoomFull):
		status = http.StatusConflict
	case errors.Is(err, membership.ErrNotConnected):
		status = http.StatusForbidden
	case errors.Is(err, registry.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	utils.Fail(w, status, msg)
}
