package models

import (
	"sort"
	"time"
)

type Message struct {
	ID         string    `json:"id"`
	RoomCode   string    `json:"room_code"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// SortMessages orders by timestamp, breaking ties by id.
func SortMessages(ms []Message) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].Timestamp.Equal(ms[j].Timestamp) {
			return ms[i].Timestamp.Before(ms[j].Timestamp)
		}
		return ms[i].ID < ms[j].ID
	})
}
