package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// client is one live connection. The writePump serializes all outbound
// traffic; everything else pushes frames onto the buffered send channel.
type client struct {
	id         string
	userID     string
	externalID string
	conn       *websocket.Conn
	send       chan []byte

	mu             sync.Mutex
	sendClosed     bool
	expiresAt      time.Time
	expiryNotified bool

	closeOnce sync.Once
}

func (c *client) writePump(log *slog.Logger) {
	for raw := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, raw)
		cancel()
		if err != nil {
			log.Debug("write failed", "connectionId", c.id, "err", err)
			return
		}
	}
}

// enqueue hands a frame to the writePump. It reports false when the frame
// was dropped, either because the buffer is full or because the connection
// has already been torn down.
func (c *client) enqueue(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// shutdownSend closes the send channel so the writePump exits. Safe to call
// more than once; enqueue refuses frames afterwards.
func (c *client) shutdownSend() {
	c.mu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// reply queues a direct message to this connection only.
func (c *client) reply(event string, data any) {
	c.enqueue(mustMarshal(event, data))
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(code, reason)
	})
}

func (c *client) expired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.After(c.expiresAt)
}

// markNotified flips the expiry-notified flag, returning false when the
// client was already notified in an earlier sweep.
func (c *client) markNotified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiryNotified {
		return false
	}
	c.expiryNotified = true
	return true
}

// renew replaces the credential window after a successful auth:renew.
func (c *client) renew(expiresAt time.Time) {
	c.mu.Lock()
	c.expiresAt = expiresAt
	c.expiryNotified = false
	c.mu.Unlock()
}
