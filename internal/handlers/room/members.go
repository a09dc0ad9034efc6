package room

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"huddle/internal/membership"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

type RoomMembersHandler struct {
	Members *membership.Coordinator
}

// ServeHTTP handles GET /rooms/{code}/members
func (h *RoomMembersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := registry.Normalize(chi.URLParam(r, "code"))
	if !registry.ValidCode(code) {
		fail(w, registry.ErrInvalidCode)
		return
	}
	members, err := h.Members.Members(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Data: members})
}
