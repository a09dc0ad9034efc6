package room

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

type CreateRoomHandler struct {
	Rooms *registry.Registry
}

type CreateRoomRequest struct {
	Code string `json:"code,omitempty"`
}

// ServeHTTP handles POST /rooms. An empty body or code picks a random code.
func (h *CreateRoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var (
		room models.Room
		err  error
	)
	if req.Code == "" {
		room, err = h.Rooms.CreateRandom(r.Context())
	} else {
		room, err = h.Rooms.Create(r.Context(), req.Code)
	}
	if err != nil {
		fail(w, err)
		return
	}
	utils.JSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "Room created", Data: room})
}
