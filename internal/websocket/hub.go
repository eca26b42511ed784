package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/revealparty/internal/middleware"
	"github.com/dukerupert/revealparty/internal/protocol"
	"github.com/dukerupert/revealparty/internal/relay"
)

const (
	heartLimit  = 10
	heartWindow = time.Second
)

// Hub tracks connected clients and the reveal room each one has joined.
// Viewer counts are per process; room events (hearts, reveal-started) travel
// through the relay so every instance delivers them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	relay    relay.Relay
	validate func(code string) bool
	limiter  *middleware.RateLimiter
	unsub    func()
	logger   *slog.Logger
}

// NewHub creates a Hub. validate reports whether a code is a joinable reveal
// code; nil accepts every code.
func NewHub(logger *slog.Logger, r relay.Relay, validate func(code string) bool) *Hub {
	if validate == nil {
		validate = func(string) bool { return true }
	}
	return &Hub{
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		relay:    r,
		validate: validate,
		limiter:  middleware.NewRateLimiter(),
		logger:   logger,
	}
}

// Start subscribes the hub to the relay.
func (h *Hub) Start() error {
	unsub, err := h.relay.Subscribe(h.deliver)
	if err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	h.mu.Lock()
	h.unsub = unsub
	h.mu.Unlock()
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	h.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from its room and the hub and closes its send
// channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.leaveLocked(c)
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.limiter.Forget(c.id)
}

// Join moves c into the room for code. A client is in at most one room.
func (h *Hub) Join(c *Client, code string) {
	if code == "" || !h.validate(code) {
		h.logger.Debug("join rejected", "client", c.id, "code", code)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok || c.room == code {
		return
	}
	h.leaveLocked(c)

	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[code] = room
	}
	room[c] = struct{}{}
	c.room = code
	h.broadcastCountLocked(code)
}

// Leave removes c from the room for code if it is there.
func (h *Hub) Leave(c *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room != "" && c.room == code {
		h.leaveLocked(c)
	}
}

func (h *Hub) leaveLocked(c *Client) {
	code := c.room
	if code == "" {
		return
	}
	c.room = ""
	room := h.rooms[code]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, code)
		return
	}
	h.broadcastCountLocked(code)
}

func (h *Hub) broadcastCountLocked(code string) {
	room := h.rooms[code]
	env, err := protocol.New(protocol.ViewerCount, "", protocol.ViewerCountData{Count: len(room)})
	if err != nil {
		h.logger.Error("encode viewer count", "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal viewer count", "error", err)
		return
	}
	for c := range room {
		c.trySend(data)
	}
}

// Heart forwards a heart from c to the rest of its room on every instance.
// The code must match the room c has joined.
func (h *Hub) Heart(ctx context.Context, c *Client, code string) {
	h.mu.RLock()
	room := c.room
	h.mu.RUnlock()
	if room == "" || room != code {
		return
	}
	if !h.limiter.Allow(c.id, heartLimit, heartWindow) {
		return
	}

	env, err := protocol.New(protocol.HeartReceived, "", nil)
	if err != nil {
		return
	}
	if err := h.relay.Publish(ctx, relay.Message{Code: room, Origin: c.id, Envelope: env}); err != nil {
		h.logger.Warn("publish heart", "code", room, "error", err)
	}
}

// PublishRevealStarted broadcasts the reveal to everyone in the room.
func (h *Hub) PublishRevealStarted(ctx context.Context, code string, data protocol.RevealStartedData) error {
	env, err := protocol.New(protocol.RevealStarted, "", data)
	if err != nil {
		return err
	}
	if err := h.relay.Publish(ctx, relay.Message{Code: code, Envelope: env}); err != nil {
		return fmt.Errorf("publish reveal-started: %w", err)
	}
	return nil
}

// deliver writes a relayed message to local members of its room, skipping
// the originating connection.
func (h *Hub) deliver(msg relay.Message) {
	data, err := json.Marshal(msg.Envelope)
	if err != nil {
		h.logger.Error("marshal relayed message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[msg.Code] {
		if msg.Origin != "" && c.id == msg.Origin {
			continue
		}
		c.trySend(data)
	}
}

// ViewerCount returns the number of local clients joined to code.
func (h *Hub) ViewerCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CleanupLimiter drops expired heart rate-limit windows.
func (h *Hub) CleanupLimiter() {
	h.limiter.Cleanup()
}
