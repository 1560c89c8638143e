package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/menuflow/pkg/domain"
)

type messageConfig struct {
	MessageType string `mapstructure:"message_type"`
	Text        string `mapstructure:"text"`
}

// Message sends a text or notice and follows the default edge.
type Message struct {
	header
	cfg messageConfig
}

func newMessage(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg messageConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	switch cfg.MessageType {
	case "":
		cfg.MessageType = domain.MsgText
	case domain.MsgText, domain.MsgNotice:
	default:
		return nil, fmt.Errorf("unsupported message_type %q", cfg.MessageType)
	}
	return &Message{header: header{def: def, env: env}, cfg: cfg}, nil
}

func (m *Message) Execute(ctx context.Context, req *Request) (Outcome, error) {
	body := m.renderOrLiteral(req, "text", m.cfg.Text)
	if strings.TrimSpace(body) == "" {
		m.log(req).Warn("message without text, nothing sent")
		return advance(domain.OutcomeDefault, nil), nil
	}
	if err := m.send(ctx, req, domain.Content{MsgType: m.cfg.MessageType, Body: body}); err != nil {
		return Outcome{}, err
	}
	return advance(domain.OutcomeDefault, nil), nil
}

type locationConfig struct {
	Latitude  string `mapstructure:"latitude"`
	Longitude string `mapstructure:"longitude"`
	Text      string `mapstructure:"text"`
}

// Location sends a geo position.
type Location struct {
	header
	cfg locationConfig
}

func newLocation(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg locationConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	if cfg.Latitude == "" || cfg.Longitude == "" {
		return nil, fmt.Errorf("location needs latitude and longitude")
	}
	return &Location{header: header{def: def, env: env}, cfg: cfg}, nil
}

func (l *Location) Execute(ctx context.Context, req *Request) (Outcome, error) {
	lat := l.renderOrLiteral(req, "latitude", l.cfg.Latitude)
	long := l.renderOrLiteral(req, "longitude", l.cfg.Longitude)
	body := l.renderOrLiteral(req, "text", l.cfg.Text)
	if body == "" {
		body = fmt.Sprintf("Location: %s, %s", lat, long)
	}

	content := domain.Content{
		MsgType: domain.MsgLocation,
		Body:    body,
		GeoURI:  fmt.Sprintf("geo:%s,%s", lat, long),
	}
	if err := l.send(ctx, req, content); err != nil {
		return Outcome{}, err
	}
	return advance(domain.OutcomeDefault, nil), nil
}

type emailConfig struct {
	ServerID   string   `mapstructure:"server_id"`
	Subject    string   `mapstructure:"subject"`
	Recipients []string `mapstructure:"recipients"`
	Text       string   `mapstructure:"text"`
	Format     string   `mapstructure:"format"`
}

// Email sends an email through a configured server. Delivery problems are logged
// and never stop the conversation.
type Email struct {
	header
	cfg emailConfig
}

func newEmail(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg emailConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("email needs server_id")
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("email needs recipients")
	}
	if cfg.Format == "" {
		cfg.Format = "html"
	}
	return &Email{header: header{def: def, env: env}, cfg: cfg}, nil
}

func (e *Email) Execute(ctx context.Context, req *Request) (Outcome, error) {
	logger := e.log(req)
	if e.env.Email == nil {
		logger.Warn("no email sender configured, email skipped")
		return advance(domain.OutcomeDefault, nil), nil
	}

	recipients := make([]string, 0, len(e.cfg.Recipients))
	for i, r := range e.cfg.Recipients {
		rendered := strings.TrimSpace(e.renderOrLiteral(req, fmt.Sprintf("recipients[%d]", i), r))
		if rendered != "" {
			recipients = append(recipients, rendered)
		}
	}

	msg := domain.Email{
		ServerID:   e.cfg.ServerID,
		Subject:    e.renderOrLiteral(req, "subject", e.cfg.Subject),
		Recipients: recipients,
		Body:       e.renderOrLiteral(req, "text", e.cfg.Text),
		Format:     e.cfg.Format,
	}
	if err := e.env.Email.Send(ctx, msg); err != nil {
		logger.Error("email not sent", "server_id", e.cfg.ServerID, "err", err)
	}
	return advance(domain.OutcomeDefault, nil), nil
}
