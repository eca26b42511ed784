// Package relay fans room events out to every server instance, so viewers
// connected to different processes still see the same reveal.
package relay

import (
	"context"
	"sync"

	"github.com/dukerupert/revealparty/internal/protocol"
)

// Message is a room event on its way to the hubs. Origin is the connection
// id of the sender, used to skip echoing a heart back to it.
type Message struct {
	Code     string            `json:"code"`
	Origin   string            `json:"origin,omitempty"`
	Envelope protocol.Envelope `json:"envelope"`
}

type Handler func(Message)

type Relay interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// Local delivers messages synchronously within the process.
type Local struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

func (l *Local) Publish(_ context.Context, msg Message) error {
	l.mu.RLock()
	hs := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		hs = append(hs, h)
	}
	l.mu.RUnlock()

	for _, h := range hs {
		h(msg)
	}
	return nil
}

func (l *Local) Subscribe(h Handler) (func(), error) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[id] = h
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.handlers = make(map[int]Handler)
	l.mu.Unlock()
	return nil
}
