// Package realtime is the client side of the reveal room channel. A Channel
// wraps exactly one websocket connection and never reconnects: when the
// connection fails the caller switches to polling instead.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dukerupert/revealparty/internal/protocol"
)

// Disconnected is the final event of a channel whose connection dropped.
const Disconnected = "disconnected"

const (
	readLimit    = 4096
	leaveTimeout = time.Second
	eventBuffer  = 16
)

// Event is a server event, or Disconnected with the read error.
type Event struct {
	Type          string
	ViewerCount   int
	RevealStarted protocol.RevealStartedData
	Err           error
}

type Channel struct {
	conn   *ws.Conn
	code   string
	events chan Event
	cancel context.CancelFunc
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// Dial connects to url and joins the room for code. A dial or join failure is
// the connect error that should start the fallback poller.
func Dial(ctx context.Context, url, code string, logger *slog.Logger) (*Channel, error) {
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:   conn,
		code:   code,
		events: make(chan Event, eventBuffer),
		cancel: cancel,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	if err := c.send(ctx, protocol.JoinReveal); err != nil {
		cancel()
		conn.CloseNow()
		return nil, fmt.Errorf("join room: %w", err)
	}
	go c.readLoop(readCtx)
	return c, nil
}

// Events is closed after the connection ends. A dropped connection delivers a
// Disconnected event first; Close does not.
func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) send(ctx context.Context, typ string) error {
	env, err := protocol.New(typ, c.code, nil)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, c.conn, env)
}

// SendHeart is fire-and-forget; the server does not acknowledge it.
func (c *Channel) SendHeart(ctx context.Context) error {
	return c.send(ctx, protocol.SendHeart)
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if c.isClosed() {
				return
			}
			c.logger.Debug("realtime connection lost", "error", err)
			c.emit(ctx, Event{Type: Disconnected, Err: err})
			return
		}
		ev, ok := c.decode(env)
		if !ok {
			continue
		}
		if !c.emit(ctx, ev) {
			return
		}
	}
}

func (c *Channel) decode(env protocol.Envelope) (Event, bool) {
	ev := Event{Type: env.Type}
	switch env.Type {
	case protocol.ViewerCount:
		var d protocol.ViewerCountData
		if err := env.Decode(&d); err != nil {
			c.logger.Debug("bad viewer-count", "error", err)
			return ev, false
		}
		ev.ViewerCount = d.Count
	case protocol.RevealStarted:
		if err := env.Decode(&ev.RevealStarted); err != nil {
			c.logger.Debug("bad reveal-started", "error", err)
			return ev, false
		}
	case protocol.HeartReceived:
	default:
		return ev, false
	}
	return ev, true
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Channel) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close leaves the room best-effort and closes the connection. Safe to call
// more than once.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if sendErr := c.send(ctx, protocol.LeaveReveal); sendErr != nil {
			c.logger.Debug("leave room", "error", sendErr)
		}
		err = c.conn.Close(ws.StatusNormalClosure, "")
		c.cancel()
		<-c.done
		var ce ws.CloseError
		if errors.As(err, &ce) || errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
