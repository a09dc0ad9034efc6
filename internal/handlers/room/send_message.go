package room

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"huddle/internal/chat"
	"huddle/internal/membership"
	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageHandler posts on behalf of the member named by the request's
// ticket. The member must still be online in the room.
type SendMessageHandler struct {
	Members  *membership.Coordinator
	Messages *chat.Channel
}

// ServeHTTP handles POST /rooms/{code}/messages
func (h *SendMessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.Ticket(r.Context())
	if !ok {
		utils.Fail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	code := registry.Normalize(chi.URLParam(r, "code"))
	if claims.Room != code {
		fail(w, membership.ErrNotConnected)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Fail(w, http.StatusBadRequest, "invalid request")
		return
	}

	members, err := h.Members.Members(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	var sender models.Member
	for _, m := range members {
		if m.ID == claims.Member && m.Online {
			sender = m
			break
		}
	}
	if sender.ID == "" {
		fail(w, membership.ErrNotConnected)
		return
	}

	msg, sent, err := h.Messages.Send(r.Context(), code, sender, req.Text)
	if err != nil {
		fail(w, err)
		return
	}
	if !sent {
		utils.Fail(w, http.StatusBadRequest, "text required")
		return
	}
	utils.JSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "Message sent", Data: msg})
}
