// Package bus implements the topic-based message dispatch that connects
// pipeline agents: a registry of handlers per topic and a per-session
// runtime that delivers messages sequentially in publish order.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Topic is a named channel used for routing messages to interested handlers.
type Topic string

// Message is a typed envelope published to a topic. It is immutable once
// published; handlers receive it by value.
type Message struct {
	ID        string
	Topic     Topic
	Source    string
	SessionID string
	Payload   any
	Timestamp time.Time
}

// NewMessage builds a Message with a fresh id and timestamp.
func NewMessage(topic Topic, source, sessionID string, payload any) Message {
	return Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Source:    source,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
