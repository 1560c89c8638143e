// Package matrix implements the chat Transport over the Matrix client-server API.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

// DefaultTimeout bounds every request to the homeserver.
const DefaultTimeout = 30 * time.Second

// Transport sends messages as a bot account.
// Route conversations use the credentials of their client row; Room
// conversations use the default homeserver and token.
type Transport struct {
	httpClient *http.Client
	homeserver string
	token      string
	clients    ports.ClientStore
	logger     *slog.Logger
}

type Option func(*Transport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithClientStore resolves per-client credentials for Route conversations.
func WithClientStore(clients ports.ClientStore) Option {
	return func(t *Transport) {
		t.clients = clients
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New creates a transport for the default homeserver and access token.
func New(homeserver, token string, opts ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		homeserver: strings.TrimRight(homeserver, "/"),
		token:      token,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// APIError is a non-2xx answer of the homeserver.
type APIError struct {
	Status  int
	ErrCode string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("homeserver returned %d %s: %s", e.Status, e.ErrCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// client builds the API client for the conversation: the default account, or the
// account of the Route's client row.
func (t *Transport) client(ctx context.Context, key domain.ConversationKey) (*mautrix.Client, error) {
	homeserver, token := t.homeserver, t.token
	if key.Kind == domain.KindRoute && t.clients != nil {
		row, err := t.clients.GetClient(ctx, key.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve client %s: %w", key.ClientID, err)
		}
		if row.Homeserver != "" {
			homeserver = strings.TrimRight(row.Homeserver, "/")
		}
		if row.AccessToken != "" {
			token = row.AccessToken
		}
	}
	return t.newClient(homeserver, token)
}

func (t *Transport) newClient(homeserver, token string) (*mautrix.Client, error) {
	cli, err := mautrix.NewClient(homeserver, "", token)
	if err != nil {
		return nil, fmt.Errorf("invalid homeserver %q: %w", homeserver, err)
	}
	cli.Client = t.httpClient
	return cli, nil
}

// SendMessage implements ports.Transport.
func (t *Transport) SendMessage(ctx context.Context, key domain.ConversationKey, content domain.Content) error {
	cli, err := t.client(ctx, key)
	if err != nil {
		return err
	}

	resp, err := cli.SendMessageEvent(ctx, id.RoomID(key.RoomID), event.EventMessage, content,
		mautrix.ReqSendEvent{TransactionID: uuid.NewString()})
	if err != nil {
		return apiError(err)
	}
	t.logger.Debug("Message sent", "conversation_id", key.String(), "event_id", resp.EventID, "msgtype", content.MsgType)
	return nil
}

// UploadMedia implements ports.Transport, returning the mxc:// content URI.
func (t *Transport) UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	cli, err := t.newClient(t.homeserver, t.token)
	if err != nil {
		return "", err
	}

	resp, err := cli.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mimeType,
		FileName:     filename,
	})
	if err != nil {
		return "", apiError(err)
	}
	if resp.ContentURI.IsEmpty() {
		return "", errors.New("homeserver returned an empty content_uri")
	}
	return resp.ContentURI.String(), nil
}

// apiError maps homeserver answers to APIError; network failures are wrapped as is.
func apiError(err error) error {
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Response == nil {
		return fmt.Errorf("failed to reach homeserver: %w", err)
	}
	apiErr := &APIError{Status: httpErr.Response.StatusCode, Message: httpErr.Message, Err: err}
	if httpErr.RespError != nil {
		apiErr.ErrCode = httpErr.RespError.ErrCode
		apiErr.Message = httpErr.RespError.Err
	}
	return apiErr
}
