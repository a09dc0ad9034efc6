package utils

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope of every REST response.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Fail writes an unsuccessful response with msg.
func Fail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, APIResponse{Success: false, Message: msg})
}
