package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Sent is a message recorded by Transport.
type Sent struct {
	Key     domain.ConversationKey
	Content domain.Content
}

// Upload is a media upload recorded by Transport.
type Upload struct {
	MimeType string
	Filename string
	Size     int
}

// Transport records outbound messages instead of delivering them.
type Transport struct {
	mu      sync.Mutex
	sent    []Sent
	uploads []Upload

	// Err, when set, is returned by every call.
	Err error
}

// NewTransport creates a recording transport.
func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) SendMessage(ctx context.Context, key domain.ConversationKey, content domain.Content) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, Sent{Key: key, Content: content})
	return nil
}

func (t *Transport) UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return "", t.Err
	}
	t.uploads = append(t.uploads, Upload{MimeType: mimeType, Filename: filename, Size: len(data)})
	return fmt.Sprintf("mxc://memory/%d", len(t.uploads)), nil
}

// SetErr changes the error returned by subsequent calls.
func (t *Transport) SetErr(err error) {
	t.mu.Lock()
	t.Err = err
	t.mu.Unlock()
}

// Sent returns a copy of the recorded messages.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Bodies returns the bodies of the messages sent to key.
func (t *Transport) Bodies(key domain.ConversationKey) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, s := range t.sent {
		if s.Key == key {
			out = append(out, s.Content.Body)
		}
	}
	return out
}

// Uploads returns a copy of the recorded uploads.
func (t *Transport) Uploads() []Upload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Upload(nil), t.uploads...)
}

// Mailbox records emails.
type Mailbox struct {
	mu     sync.Mutex
	emails []domain.Email
	Err    error
}

func (m *Mailbox) Send(ctx context.Context, email domain.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.emails = append(m.emails, email)
	return nil
}

// Emails returns a copy of the recorded emails.
func (m *Mailbox) Emails() []domain.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Email(nil), m.emails...)
}
