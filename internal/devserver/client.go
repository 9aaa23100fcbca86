package devserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/zfogg/emoine/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size
	sendBufferSize = 256
)

// Client is a single WebSocket connection to the hub
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	hub  *Hub
	conn *websocket.Conn
	send chan frame

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client with a fresh ID
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan frame, sendBufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ReadPump relays frames from the connection to the hub until it fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close(websocket.StatusNormalClosure, "closing")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Debug("Client closed connection", "client", c.ID, "status", status)
			case c.ctx.Err() != nil, errors.Is(err, context.Canceled):
			default:
				logger.Warn("Read error", "client", c.ID, "error", err)
			}
			return
		}
		c.hub.record(c.ID, typ, data)
		c.hub.Broadcast(typ, data)
	}
}

// WritePump delivers queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case f, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				c.Close(websocket.StatusNormalClosure, "closing")
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, f.typ, f.data)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					logger.Warn("Write error", "client", c.ID, "error", err)
				}
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				logger.Debug("Ping failed", "client", c.ID, "error", err)
				return
			}
		}
	}
}

// push queues f without blocking; false means the buffer is full
func (c *Client) push(f frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Close sends a close frame with code and reason and releases the client.
// Only the first call has an effect.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.conn.Close(code, reason)
	c.cancel()
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
