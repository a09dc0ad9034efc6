package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"huddle/internal/membership"
	"huddle/internal/registry"
	"huddle/internal/session"
	"huddle/internal/utils"
	"huddle/internal/ws"
)

const closeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades to a websocket and runs one client session on it.
// Closing the socket, cleanly or not, fires the session's disconnect hooks.
type WSHandler struct {
	Deps         session.Deps
	TicketSecret string
	TicketTTL    time.Duration
	Log          logrus.FieldLogger
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.Log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := ws.NewConnection(conn, id, h.Log)
	sess := session.New(id, h.Deps, func(st session.State) {
		c.Push(ws.Frame{Type: "state", Data: st})
	})
	ctx, cancel := context.WithCancel(context.Background())
	log := h.Log.WithField("conn", id)
	log.Info("connection opened")

	go c.StartWrite()
	d := &dispatcher{h: h, c: c, sess: sess, ctx: ctx}
	c.StartRead(d.handle)

	cancel()
	closeCtx, done := context.WithTimeout(context.Background(), closeTimeout)
	defer done()
	if err := sess.Close(closeCtx); err != nil {
		log.WithError(err).Warn("disconnect hooks failed")
	}
	log.Info("connection closed")
}

type dispatcher struct {
	h    *WSHandler
	c    *ws.Connection
	sess *session.Session
	ctx  context.Context
}

func (d *dispatcher) handle(f ws.Frame) {
	switch f.Type {
	case "create":
		room, err := d.sess.CreateRoom(d.ctx, f.Room)
		if err != nil {
			d.fail(f, err)
			return
		}
		d.ack(f, room.Code, map[string]interface{}{"room": room})
	case "check":
		exists, err := d.sess.CheckRoomExists(d.ctx, f.Room)
		if err != nil {
			d.fail(f, err)
			return
		}
		d.ack(f, registry.Normalize(f.Room), map[string]interface{}{"exists": exists})
	case "join":
		// joins run alongside the read loop so a later frame can supersede them
		go d.join(f)
	case "leave":
		d.sess.LeaveRoom(d.ctx, f.Room)
		d.ack(f, registry.Normalize(f.Room), nil)
	case "send":
		msg, sent, err := d.sess.SendMessage(d.ctx, f.Room, f.Text)
		if err != nil {
			d.fail(f, err)
			return
		}
		data := map[string]interface{}{"sent": sent}
		if sent {
			data["message"] = msg
		}
		d.ack(f, msg.RoomCode, data)
	case "heartbeat":
		if err := d.sess.Heartbeat(d.ctx); err != nil {
			d.fail(f, err)
			return
		}
		d.ack(f, "", nil)
	default:
		d.c.Push(ws.Frame{Type: "error", RequestID: f.RequestID, Message: "unknown message type"})
	}
}

func (d *dispatcher) join(f ws.Frame) {
	code := registry.Normalize(f.Room)
	opts := membership.JoinOptions{Name: f.Name}
	if f.Ticket != "" {
		if claims, err := utils.ParseJWT(f.Ticket, d.h.TicketSecret); err == nil && claims.Room == code {
			opts.MemberID = claims.Member
		}
	}

	m, err := d.sess.Join(d.ctx, code, opts)
	if err != nil {
		d.fail(f, err)
		return
	}
	ticket, err := utils.GenerateJWT(code, m.ID, d.h.TicketSecret, d.h.TicketTTL)
	if err != nil {
		d.h.Log.WithError(err).Error("ticket signing failed")
	}
	d.c.Push(ws.Frame{
		Type:      "joined",
		RequestID: f.RequestID,
		Room:      code,
		MemberID:  m.ID,
		Name:      m.Name,
		Ticket:    ticket,
	})
}

func (d *dispatcher) ack(f ws.Frame, room string, data interface{}) {
	d.c.Push(ws.Frame{Type: "ack", RequestID: f.RequestID, Room: room, Data: data})
}

func (d *dispatcher) fail(f ws.Frame, err error) {
	d.c.Push(ws.Frame{
		Type:      "error",
		RequestID: f.RequestID,
		Room:      registry.Normalize(f.Room),
		Message:   membership.Reason(err),
	})
}
