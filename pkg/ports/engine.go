package ports

import (
	"context"

	"github.com/aretw0/menuflow/pkg/domain"
)

// StepResult summarizes what a trigger did to a conversation.
type StepResult struct {
	Conversation *domain.Conversation
	Status       domain.ExecutionStatus
	// Visited lists the node IDs executed during the trigger, in order.
	Visited []string
	// Ignored is set when the trigger was dropped (echo of the engine's own messages).
	Ignored bool
}

// Engine defines the interface used by driving adapters (HTTP ingress, CLI).
type Engine interface {
	// Process handles a trigger: first contact (msg == nil) or an incoming message.
	Process(ctx context.Context, key domain.ConversationKey, msg *domain.Message) (*StepResult, error)

	// Reset puts a conversation back at the start of the flow.
	Reset(ctx context.Context, key domain.ConversationKey, clearVariables bool) error

	// Conversation returns the persisted state of a conversation.
	Conversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error)
}
