package domain

import (
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEntry EventType = "node_entry"
)

// NodeEvent is emitted after every node execution.
// It is informational only and never drives decisions.
type NodeEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Type           EventType         `json:"type"`
	NodeType       NodeKind          `json:"node_type"`
	NodeID         string            `json:"node_id"`
	ConversationID string            `json:"conversation_id"`
	Sender         string            `json:"sender"`
	Edge           string            `json:"o_connection"`
	Outcome        string            `json:"outcome,omitempty"`
	Variables      map[string]string `json:"variables"`

	// External marks events that the node asked to publish (send_event).
	External bool `json:"-"`
}
