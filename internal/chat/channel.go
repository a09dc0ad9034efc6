// Package chat appends messages to a room's log and serves it back in order.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"huddle/internal/models"
	"huddle/internal/registry"
	"huddle/internal/store"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 2000

// ErrMessageTooLong is returned for text over MaxMessageLength characters.
var ErrMessageTooLong = errors.New("message too long")

// Toucher refreshes a member's lastSeen.
type Toucher interface {
	Touch(ctx context.Context, code, id string) error
}

type Channel struct {
	store store.Store
	touch Toucher
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() (uuid.UUID, error)
}

func NewChannel(s store.Store, touch Toucher, log logrus.FieldLogger) *Channel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{
		store: s,
		touch: touch,
		log:   log.WithField("component", "chat"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewV7,
	}
}

// Send appends text from sender to the room log. Blank text is ignored and
// reported with sent == false. Membership is the caller's concern.
func (c *Channel) Send(ctx context.Context, code string, sender models.Member, text string) (models.Message, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, false, nil
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return models.Message{}, false, ErrMessageTooLong
	}
	code = registry.Normalize(code)

	id, err := c.newID()
	if err != nil {
		return models.Message{}, false, err
	}
	msg := models.Message{
		ID:         id.String(),
		RoomCode:   code,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Text:       text,
		Timestamp:  c.now(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, false, err
	}
	if _, err := c.store.Put(ctx, registry.MessagePrefix(code)+msg.ID, b); err != nil {
		return models.Message{}, false, registry.Unavailable(err)
	}

	if c.touch != nil {
		if err := c.touch.Touch(ctx, code, sender.ID); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{"room": code, "member": sender.ID}).Debug("lastSeen refresh after send failed")
		}
	}
	return msg, true, nil
}

// History returns the room log ordered by timestamp, then id.
func (c *Channel) History(ctx context.Context, code string) ([]models.Message, error) {
	code = registry.Normalize(code)
	entries, err := c.store.List(ctx, registry.MessagePrefix(code))
	if err != nil {
		return nil, registry.Unavailable(err)
	}
	msgs := make([]models.Message, 0, len(entries))
	for _, e := range entries {
		var m models.Message
		if err := json.Unmarshal(e.Value, &m); err != nil {
			c.log.WithError(err).WithField("key", e.Key).Warn("skipping unreadable message")
			continue
		}
		msgs = append(msgs, m)
	}
	models.SortMessages(msgs)
	return msgs, nil
}

// Watch calls fn with the whole ordered log now and after every append.
func (c *Channel) Watch(code string, fn func([]models.Message)) (stop func(), err error) {
	code = registry.Normalize(code)
	return store.Observe(c.store, registry.MessagePrefix(code), func(ctx context.Context) {
		msgs, err := c.History(ctx, code)
		if err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).WithField("room", code).Warn("message snapshot failed")
			}
			return
		}
		fn(msgs)
	})
}
