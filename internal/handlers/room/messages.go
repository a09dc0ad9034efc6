package room

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"huddle/internal/chat"
	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/utils"
)

const maxPage = 100

type RoomMessagesHandler struct {
	Rooms    *registry.Registry
	Messages *chat.Channel
}

// ServeHTTP handles GET /rooms/{code}/messages. With num it returns the newest
// num messages, older than before when that id is given, still oldest first.
func (h *RoomMessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := registry.Normalize(chi.URLParam(r, "code"))
	if !registry.ValidCode(code) {
		fail(w, registry.ErrInvalidCode)
		return
	}
	num := 0
	if s := r.URL.Query().Get("num"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxPage {
			utils.Fail(w, http.StatusBadRequest, "num must be between 1 and 100")
			return
		}
		num = n
	}

	if _, err := h.Rooms.Get(r.Context(), code); err != nil {
		fail(w, err)
		return
	}
	messages, err := h.Messages.History(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	messages = page(messages, r.URL.Query().Get("before"), num)
	if len(messages) == 0 {
		utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "no history", Data: []models.Message{}})
		return
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "messages fetched", Data: messages})
}

func page(ms []models.Message, before string, num int) []models.Message {
	if before != "" {
		for i, m := range ms {
			if m.ID == before {
				ms = ms[:i]
				break
			}
		}
	}
	if num > 0 && len(ms) > num {
		ms = ms[len(ms)-num:]
	}
	return ms
}
