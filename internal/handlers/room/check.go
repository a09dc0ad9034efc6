package room

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"huddle/internal/membership"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

// RoomCheckHandler reports whether a room exists and how full it is.
type RoomCheckHandler struct {
	Rooms   *registry.Registry
	Members *membership.Coordinator
}

type RoomInfo struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	Online    int       `json:"online"`
	Capacity  int       `json:"capacity"`
}

// ServeHTTP handles GET /rooms/{code}
func (h *RoomCheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := registry.Normalize(chi.URLParam(r, "code"))
	if !registry.ValidCode(code) {
		fail(w, registry.ErrInvalidCode)
		return
	}
	room, err := h.Rooms.Get(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Data: RoomInfo{
		Code:      room.Code,
		CreatedAt: room.CreatedAt,
		Online:    room.OnlineCount(),
		Capacity:  h.Members.Config().Capacity,
	}})
}
