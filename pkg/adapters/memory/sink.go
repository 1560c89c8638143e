package memory

import (
	"context"
	"sync"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Sink records published node events.
type Sink struct {
	mu     sync.Mutex
	events []domain.NodeEvent
	Err    error
}

func (s *Sink) Publish(ctx context.Context, evt domain.NodeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.Err
}

// Events returns a copy of the recorded events.
func (s *Sink) Events() []domain.NodeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NodeEvent(nil), s.events...)
}
