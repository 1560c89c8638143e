package domain

import (
	"net/url"
	"strings"
	"time"
)

// LifecycleState is the coarse, persisted status of a conversation.
type LifecycleState string

const (
	StateStart   LifecycleState = "START"   // Not started or advancing normally
	StateInput   LifecycleState = "INPUT"   // Waiting for an external message
	StateEnd     LifecycleState = "END"     // Flow completed, no automatic advancement
	StateBlocked LifecycleState = "BLOCKED" // Halted by an unrecoverable error
)

// ExecutionStatus is the interpreter-level view of a conversation after a trigger.
type ExecutionStatus string

const (
	StatusRunning        ExecutionStatus = "running"
	StatusSuspendedInput ExecutionStatus = "suspended_input"
	StatusSuspendedTimer ExecutionStatus = "suspended_timer"
	StatusEnded          ExecutionStatus = "end"
	StatusBlocked        ExecutionStatus = "blocked"
)

// ConversationKind distinguishes the two independently persisted conversation forms.
type ConversationKind string

const (
	// KindRoom is one conversation per physical chat room.
	KindRoom ConversationKind = "room"
	// KindRoute is one conversation per client x room pairing.
	KindRoute ConversationKind = "route"
)

// ConversationKey identifies a conversation.
type ConversationKey struct {
	Kind     ConversationKind `json:"kind"`
	RoomID   string           `json:"room_id"`
	ClientID string           `json:"client_id,omitempty"` // Route only
}

// RoomKey builds the key of a Room conversation.
func RoomKey(roomID string) ConversationKey {
	return ConversationKey{Kind: KindRoom, RoomID: roomID}
}

// RouteKey builds the key of a Route conversation.
func RouteKey(clientID, roomID string) ConversationKey {
	return ConversationKey{Kind: KindRoute, RoomID: roomID, ClientID: clientID}
}

// String returns a stable identifier, used for locking, logging and storage.
// Client ids are query-escaped in route keys: Matrix ids contain ':'.
func (k ConversationKey) String() string {
	if k.Kind == KindRoute {
		return string(KindRoute) + ":" + url.QueryEscape(k.ClientID) + ":" + k.RoomID
	}
	return string(KindRoom) + ":" + k.RoomID
}

// ParseConversationKey is the inverse of ConversationKey.String.
func ParseConversationKey(s string) (ConversationKey, bool) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return ConversationKey{}, false
	}
	switch ConversationKind(kind) {
	case KindRoom:
		return RoomKey(rest), true
	case KindRoute:
		escaped, room, ok := strings.Cut(rest, ":")
		if !ok || escaped == "" || room == "" {
			return ConversationKey{}, false
		}
		client, err := url.QueryUnescape(escaped)
		if err != nil {
			return ConversationKey{}, false
		}
		return RouteKey(client, room), true
	}
	return ConversationKey{}, false
}

// Conversation is the persisted working memory of the interpreter.
type Conversation struct {
	Key ConversationKey `json:"key"`

	// NodeID is the current node. Empty means the flow has not started.
	NodeID string `json:"node_id,omitempty"`

	State LifecycleState `json:"state"`

	Variables map[string]string `json:"variables"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a fresh conversation that has not entered the flow yet.
func NewConversation(key ConversationKey) *Conversation {
	return &Conversation{
		Key:       key,
		State:     StateStart,
		Variables: make(map[string]string),
	}
}

// Clone returns a deep copy safe for mutation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	next := *c
	next.Variables = make(map[string]string, len(c.Variables))
	for k, v := range c.Variables {
		next.Variables[k] = v
	}
	return &next
}

// SetVariables applies updates with last-write-wins semantics.
func (c *Conversation) SetVariables(updates map[string]string) {
	if len(updates) == 0 {
		return
	}
	if c.Variables == nil {
		c.Variables = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		c.Variables[k] = v
	}
}
