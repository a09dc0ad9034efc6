package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Room is the document stored at rooms/{CODE}. Membership lives inside it so
// that a join is a single compare-and-swap on one key.
type Room struct {
	Code      string            `json:"code"`
	CreatedAt time.Time         `json:"created_at"`
	Members   map[string]Member `json:"members"`
}

func NewRoom(code string, now time.Time) Room {
	return Room{Code: code, CreatedAt: now, Members: map[string]Member{}}
}

// OnlineCount counts online members, skipping the ids in except.
func (r Room) OnlineCount(except ...string) int {
	n := 0
	for id, m := range r.Members {
		if !m.Online {
			continue
		}
		skip := false
		for _, e := range except {
			if e == id {
				skip = true
				break
			}
		}
		if !skip {
			n++
		}
	}
	return n
}

// MemberList returns members ordered by name, then id.
func (r Room) MemberList() []Member {
	out := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		out = append(out, m)
	}
	SortMembers(out)
	return out
}

func SortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Name != ms[j].Name {
			return ms[i].Name < ms[j].Name
		}
		return ms[i].ID < ms[j].ID
	})
}

func EncodeRoom(r Room) ([]byte, error) {
	if r.Members == nil {
		r.Members = map[string]Member{}
	}
	return json.Marshal(r)
}

func DecodeRoom(b []byte) (Room, error) {
	var r Room
	if err := json.Unmarshal(b, &r); err != nil {
		return Room{}, err
	}
	if r.Members == nil {
		r.Members = map[string]Member{}
	}
	return r, nil
}
