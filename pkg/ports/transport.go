package ports

import (
	"context"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Transport is the chat protocol capability consumed by the engine.
type Transport interface {
	// SendMessage delivers content to the room of the conversation.
	SendMessage(ctx context.Context, key domain.ConversationKey, content domain.Content) error

	// UploadMedia stores media and returns a reference usable in Content.URL.
	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error)
}

// EmailSender delivers outbound email.
type EmailSender interface {
	Send(ctx context.Context, email domain.Email) error
}

// EventSink receives node lifecycle notifications.
// Implementations must not block the caller for long; failures are logged, never propagated.
type EventSink interface {
	Publish(ctx context.Context, evt domain.NodeEvent) error
}
