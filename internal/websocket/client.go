package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/dukerupert/revealparty/internal/protocol"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	readLimit      = 4096
)

// Client represents a single WebSocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *ws.Conn
	send chan []byte
	room string // guarded by hub.mu
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string { return c.id }

// trySend queues data without blocking. Callers hold hub.mu.
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		// Client buffer full, drop message to avoid blocking
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn.SetReadLimit(readLimit)
	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump dispatches room events until the connection closes.
func (c *Client) readPump(ctx context.Context) {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if ws.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.hub.logger.Debug("read", "client", c.id, "error", err)
			}
			return
		}
		c.handle(ctx, env)
	}
}

func (c *Client) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.JoinReveal:
		c.hub.Join(c, env.Code)
	case protocol.LeaveReveal:
		c.hub.Leave(c, env.Code)
	case protocol.SendHeart:
		c.hub.Heart(ctx, c, env.Code)
	default:
		c.hub.logger.Debug("unknown event", "client", c.id, "type", env.Type)
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel, connection is done
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
