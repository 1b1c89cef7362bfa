package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Frame is the envelope of every websocket exchange, both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn wraps one websocket. All writes go through the buffered send
// channel so the fan-out workers never block on a slow client; a full
// buffer counts as a delivery miss and the client recovers via replay.
type Conn struct {
	ID     string
	UserID string

	sock   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newConn(id, userID string, sock *websocket.Conn, log *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:     id,
		UserID: userID,
		sock:   sock,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Context ends when the connection closes, whichever side initiated it.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// readPump dispatches inbound frames sequentially, which is what keeps
// a single client's operations ordered. Pong receipts feed onPong so
// the gateway can refresh the presence lease.
func (c *Conn) readPump(onFrame func(Frame), onPong func()) {
	defer c.Close()

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
		onPong()
		return nil
	})

	for {
		var frame Frame
		if err := c.sock.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.log.Debug("Connection read error", "connection_id", c.ID, "err", err)
			}
			return
		}
		onFrame(frame)
	}
}

// writePump owns the socket's write side: queued frames plus the ping
// ticker that keeps the read deadline alive on the other end.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case payload, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON queues one event frame. It reports false when the
// connection already closed or its buffer is full.
func (c *Conn) SendJSON(eventName string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("Failed to marshal event payload", "event", eventName, "err", err)
		return false
	}
	raw, err := json.Marshal(Frame{Event: eventName, Data: data})
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.send)
	_ = c.sock.Close()
}
