package room

import (
	"net/http"

	"huddle/internal/membership"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

type RoomListHandler struct {
	Rooms   *registry.Registry
	Members *membership.Coordinator
}

// ServeHTTP handles GET /rooms
func (h *RoomListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Rooms.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	capacity := h.Members.Config().Capacity
	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{
			Code:      room.Code,
			CreatedAt: room.CreatedAt,
			Online:    room.OnlineCount(),
			Capacity:  capacity,
		})
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "rooms fetched", Data: out})
}
