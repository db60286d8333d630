// Package inbox implements per-agent FIFO message queues and the envelope
// type they carry.
package inbox

import "time"

// Kind classifies a message envelope.
type Kind string

const (
	KindRequest      Kind = "REQUEST"
	KindResponse     Kind = "RESPONSE"
	KindNotification Kind = "NOTIFICATION"
	KindMulticast    Kind = "MULTICAST"
)

// Envelope is one message moving along a one-hop edge of the agent tree.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Sender    string
	Recipient string // empty when not yet resolved to a single recipient
	ReplyTo   string
	Kind      Kind
	Payload   string
	Metadata  map[string]string
}
