// Package protocol defines the realtime events exchanged between reveal
// clients and the server hub. Every frame is a JSON Envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client to server.
const (
	JoinReveal  = "join-reveal"
	LeaveReveal = "leave-reveal"
	SendHeart   = "send-heart"
)

// Server to client.
const (
	ViewerCount   = "viewer-count"
	RevealStarted = "reveal-started"
	HeartReceived = "heart-received"
)

type Envelope struct {
	Type string          `json:"type"`
	Code string          `json:"code,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ViewerCountData struct {
	Count int `json:"count"`
}

type RevealStartedData struct {
	Gender          string    `json:"gender"`
	RevealStartedAt time.Time `json:"revealStartedAt"`
	ServerTime      time.Time `json:"serverTime"`
}

// New builds an envelope, encoding data when non-nil.
func New(typ, code string, data any) (Envelope, error) {
	env := Envelope{Type: typ, Code: code}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}
