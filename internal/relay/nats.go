package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	subjectPrefix     = "reveal.room"
	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second
)

// NATS relays room events over core NATS subjects reveal.room.<code>.
// Delivery is at-most-once, which matches the fire-and-forget contract of
// hearts and the reveal broadcast (late clients catch up through status).
type NATS struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func ConnectNATS(url string, logger *slog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("revealparty"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", "error", err)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{nc: nc, logger: logger}, nil
}

func subject(code string) string {
	return subjectPrefix + "." + code
}

func codeFromSubject(subj string) (string, bool) {
	code, ok := strings.CutPrefix(subj, subjectPrefix+".")
	return code, ok && code != "" && !strings.Contains(code, ".")
}

func (n *NATS) Publish(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := n.nc.Publish(subject(msg.Code), data); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Envelope.Type, err)
	}
	return nil
}

func (n *NATS) Subscribe(h Handler) (func(), error) {
	sub, err := n.nc.Subscribe(subjectPrefix+".*", func(m *nats.Msg) {
		msg, err := decodeMessage(m.Subject, m.Data)
		if err != nil {
			n.logger.Warn("drop relay message", "subject", m.Subject, "error", err)
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Debug("unsubscribe", "error", err)
		}
	}, nil
}

func decodeMessage(subj string, data []byte) (Message, error) {
	code, ok := codeFromSubject(subj)
	if !ok {
		return Message{}, fmt.Errorf("unexpected subject %q", subj)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode relay message: %w", err)
	}
	if msg.Code != code {
		return Message{}, fmt.Errorf("subject code %q does not match payload code %q", code, msg.Code)
	}
	return msg, nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
