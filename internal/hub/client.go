package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"portalchat/internal/protocol"
)

const egressBuffer = 32

// Client is one live websocket connection of an authenticated user. All
// writes go through the egress channel so events to the same connection
// keep their send order.
type Client struct {
	ID        string
	UserID    string
	conn      *websocket.Conn
	egress    chan protocol.Frame
	expiresAt time.Time
	closeOnce sync.Once
}

func newClient(id, userID string, conn *websocket.Conn, expiresAt time.Time) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		conn:      conn,
		egress:    make(chan protocol.Frame, egressBuffer),
		expiresAt: expiresAt,
	}
}

// Send queues a frame without blocking; a full queue drops the frame.
func (c *Client) Send(frame protocol.Frame) bool {
	select {
	case c.egress <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	for frame := range c.egress {
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

// expired reports whether the token the connection authenticated with has
// passed its expiry. A zero expiry never expires.
func (c *Client) expired() bool {
	return !c.expiresAt.IsZero() && time.Now().After(c.expiresAt)
}

// closeWith sends a close control frame and tears the connection down.
// WriteControl is safe alongside the write pump.
func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.egress)
		_ = c.conn.Close()
	})
}
