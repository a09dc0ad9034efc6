package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 256
)

// Frame is the envelope for websocket messages in both directions.
type Frame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Room      string      `json:"room,omitempty"`
	Text      string      `json:"text,omitempty"`
	MemberID  string      `json:"member_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Ticket    string      `json:"ticket,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Connection represents a websocket connection to a client
type Connection struct {
	Conn *websocket.Conn
	Send chan []byte
	ID   string

	log       logrus.FieldLogger
	done      chan struct{}
	closeOnce sync.Once
}

func NewConnection(conn *websocket.Conn, id string, log logrus.FieldLogger) *Connection {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connection{
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		ID:   id,
		log:  log.WithField("conn", id),
		done: make(chan struct{}),
	}
}

// Push queues f for the client. A client that cannot keep up is dropped.
func (c *Connection) Push(f Frame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		c.log.WithError(err).WithField("type", f.Type).Error("frame encode failed")
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- b:
		return true
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.Close()
		return false
	}
}

// Close shuts the socket down; StartRead and StartWrite then return.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

func (c *Connection) Done() <-chan struct{} { return c.done }

// StartRead reads frames until the client goes away or stops answering
// pings, calling handle for each one.
func (c *Connection) StartRead(handle func(Frame)) {
	defer c.Close()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Info("connection dropped")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.Push(Frame{Type: "error", Message: "invalid message format"})
			continue
		}
		handle(f)
	}
}

// StartWrite writes messages from the Send channel to the websocket
func (c *Connection) StartWrite() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
