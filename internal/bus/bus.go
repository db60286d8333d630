// Package bus mirrors inbox deliveries onto a NATS subject per agent. It is
// a pure sink: single-process message delivery always goes through
// internal/inbox directly, and a Bridge publish failure never blocks or
// fails a send_message/broadcast call — it only loses the mirror.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Envelope is the wire shape mirrored onto NATS; it carries the fields of
// inbox.Envelope except ReplyTo, without importing that package, keeping bus free of any
// dependency on the routing layer.
type Envelope struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient"`
	Kind      string            `json:"kind"`
	Payload   string            `json:"payload"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Bridge publishes envelopes to a subject derived from the recipient's
// agent id. It holds no subscription side — agentmux itself never consumes
// from NATS, only mirrors into it for external observers.
type Bridge struct {
	conn *nats.Conn
}

// Connect dials url and returns a Bridge. Callers should Close it on
// shutdown.
func Connect(url string) (*Bridge, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &Bridge{conn: conn}, nil
}

// Subject returns the NATS subject an agent's mirrored messages publish to.
func Subject(agentID string) string {
	return "agentmux.inbox." + agentID
}

// Publish mirrors env onto the recipient's subject. Errors are returned to
// the caller to log, never to abort delivery — see the package doc.
func (b *Bridge) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	return b.conn.Publish(Subject(env.Recipient), data)
}

// Close drains and closes the underlying connection.
func (b *Bridge) Close() error {
	return b.conn.Drain()
}
