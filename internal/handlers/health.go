package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"huddle/internal/store"
	"huddle/internal/utils"
)

const healthProbeKey = "health/probe"

// HealthHandler reports whether the store answers reads.
type HealthHandler struct {
	Store store.Store
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	_, err := h.Store.Get(ctx, healthProbeKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		utils.JSON(w, http.StatusServiceUnavailable, utils.APIResponse{
			Success: false,
			Message: "store unavailable",
			Data:    map[string]string{"status": "degraded"},
		})
		return
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
}
