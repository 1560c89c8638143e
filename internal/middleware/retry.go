package middleware

import (
	"net/http"
	"sync"
)

// RetryState is the authentication attempt counter of a conversation.
type RetryState struct {
	LastNodeID string
	Attempts   int
}

// RetryTracker counts consecutive 401 responses per conversation so a node that
// keeps failing authentication is eventually diverted instead of looping.
type RetryTracker struct {
	mu      sync.Mutex
	entries map[string]RetryState
}

// NewRetryTracker creates an empty tracker.
func NewRetryTracker() *RetryTracker {
	return &RetryTracker{entries: make(map[string]RetryState)}
}

// Record accounts for the status of a call made by nodeID on behalf of conversation.
// It reports true when the attempt cap was reached; the counter is reset in that case.
func (t *RetryTracker) Record(conversation, nodeID string, status, limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch status {
	case http.StatusOK, http.StatusCreated:
		delete(t.entries, conversation)
		return false
	case http.StatusUnauthorized:
	default:
		return false
	}

	st := t.entries[conversation]
	if st.LastNodeID != nodeID {
		st = RetryState{LastNodeID: nodeID}
	}
	st.Attempts++

	if limit > 0 && st.Attempts >= limit {
		delete(t.entries, conversation)
		return true
	}
	t.entries[conversation] = st
	return false
}

// State returns the current counter of a conversation.
func (t *RetryTracker) State(conversation string) (RetryState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.entries[conversation]
	return st, ok
}

// Forget drops the counter of a conversation.
func (t *RetryTracker) Forget(conversation string) {
	t.mu.Lock()
	delete(t.entries, conversation)
	t.mu.Unlock()
}
