package http

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/pkg/domain"
)

// StreamManager fans committed conversation diffs out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // conversation key -> channels
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a channel for a conversation. The returned func unsubscribes.
func (sm *StreamManager) Subscribe(key domain.ConversationKey) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id := key.String()
	ch := make(chan string, 10)
	if _, ok := sm.subscribers[id]; !ok {
		sm.subscribers[id] = make(map[chan<- string]struct{})
	}
	sm.subscribers[id][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[id]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, id)
			}
		}
	}
}

// Publish matches the interpreter's state hook signature.
func (sm *StreamManager) Publish(key domain.ConversationKey, diff *domain.StateDiff) {
	if diff == nil {
		return
	}
	payload, err := json.Marshal(diff)
	if err != nil {
		sm.logger.Warn("SSE: failed to encode diff", "conversation_id", key.String(), "err", err)
		return
	}
	sm.Broadcast(key.String(), string(payload))
}

// Broadcast sends msg to every subscriber of a conversation, dropping it for slow clients.
func (sm *StreamManager) Broadcast(id string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[id] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: client buffer full, dropping message", "conversation_id", id)
		}
	}
}
