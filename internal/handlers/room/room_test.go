package room

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"huddle/internal/chat"
	"huddle/internal/membership"
	"huddle/internal/models"
	"huddle/internal/registry"
)

func TestPage(t *testing.T) {
	var ms []models.Message
	for i := 0; i < 5; i++ {
		ms = append(ms, models.Message{ID: fmt.Sprint(i)})
	}
	ids := func(ms []models.Message) (out []string) {
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, ids(page(ms, "", 0)))
	assert.Equal(t, []string{"3", "4"}, ids(page(ms, "", 2)))
	assert.Equal(t, []string{"1", "2"}, ids(page(ms, "3", 2)))
	assert.Equal(t, []string{"0", "1", "2"}, ids(page(ms, "3", 0)))
	assert.Equal(t, []string{"3", "4"}, ids(page(ms, "unknown", 2)))
}

func TestFailStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{registry.ErrInvalidCode, http.StatusBadRequest},
		{chat.ErrMessageTooLong, http.StatusBadRequest},
		{registry.ErrRoomNotFound, http.StatusNotFound},
		{registry.ErrRoomAlreadyExists, http.StatusConflict},
		{membership.ErrRoomFull, http.StatusConflict},
		{membership.ErrNotConnected, http.StatusForbidden},
		{registry.Unavailable(fmt.Errorf("boom")), http.StatusServiceUnavailable},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		fail(rec, c.err)
		assert.Equal(t, c.status, rec.Code, c.err.Error())
	}
}
