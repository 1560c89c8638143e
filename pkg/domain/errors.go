package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConversationNotFound is returned when a conversation cannot be found in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrClientNotFound is returned when a client record does not exist.
var ErrClientNotFound = errors.New("client not found")

// ErrUserNotFound is returned when a user record does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrStepLimit is returned when a single trigger exceeds the configured step budget.
var ErrStepLimit = errors.New("step limit reached")

// RenderError is a template resolution failure. It is recoverable and field-local.
type RenderError struct {
	Field string
	Err   error
}

func (e *RenderError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("render: %v", e.Err)
	}
	return fmt.Sprintf("render field '%s': %v", e.Field, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// TransportError is an outbound call (chat transport or HTTP) that failed or timed out.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError is a state read/write failure. The step was not committed.
type PersistenceError struct {
	Op  string
	Key ConversationKey
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GraphConfigError rejects a flow at load time. It lists every problem found.
type GraphConfigError struct {
	Problems []string
}

func (e *GraphConfigError) Error() string {
	return fmt.Sprintf("invalid flow, found %d problems:\n- %s", len(e.Problems), strings.Join(e.Problems, "\n- "))
}

// BlockedError reports that a conversation was halted and needs an external reset.
type BlockedError struct {
	Key    ConversationKey
	NodeID string
	Err    error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("conversation %s blocked at node '%s': %v", e.Key, e.NodeID, e.Err)
}

func (e *BlockedError) Unwrap() error { return e.Err }
