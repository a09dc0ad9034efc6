package models

import "time"

// Member is one participant of a room. LastSeen is always server-assigned.
type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}
