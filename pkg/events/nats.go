package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix when none is configured.
const DefaultSubjectPrefix = "arena.events"

// NATSSink publishes envelopes as JSON to "<prefix>.<type>". The idempotency
// key travels in the Nats-Msg-Id header so a JetStream stream bound to the
// subjects can drop duplicates.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

// NewNATSSink wraps an existing connection. The caller keeps ownership.
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// DialNATSSink connects to url and returns a sink that closes the
// connection on Close.
func DialNATSSink(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("go-arena"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s := NewNATSSink(conn, prefix)
	s.owned = true
	return s, nil
}

// Subject returns the subject an event of eventType is published on.
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

// Append implements EventSink. NATS publish does not take a context, so the
// context is checked before publishing.
func (s *NATSSink) Append(ctx context.Context, envelope Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(s.Subject(envelope.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, envelope.IdempotencyKey)
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", envelope.Type, err)
	}
	return nil
}

// Close drains the connection when the sink dialed it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Drain()
}
