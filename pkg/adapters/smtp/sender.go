// Package smtp delivers email nodes through the servers of the flow-utils document.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/menuflow/pkg/domain"
)

// ErrUnknownServer is returned for a server_id not declared in flow-utils.
var ErrUnknownServer = errors.New("unknown email server")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender implements ports.EmailSender.
type Sender struct {
	servers map[string]domain.EmailServer
	send    sendFunc
	now     func() time.Time
}

// NewSender indexes the declared servers by id.
func NewSender(servers []domain.EmailServer) *Sender {
	idx := make(map[string]domain.EmailServer, len(servers))
	for _, s := range servers {
		idx[s.ServerID] = s
	}
	return &Sender{servers: idx, send: smtp.SendMail, now: time.Now}
}

// Send delivers the email. smtp.SendMail upgrades with STARTTLS when offered.
func (s *Sender) Send(ctx context.Context, email domain.Email) error {
	server, ok := s.servers[email.ServerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, email.ServerID)
	}
	if len(email.Recipients) == 0 {
		return errors.New("email has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := server.From
	if from == "" {
		from = server.Username
	}

	var auth smtp.Auth
	if server.Username != "" {
		auth = smtp.PlainAuth("", server.Username, server.Password, server.Host)
	}

	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	msg := compose(from, email, s.now())
	if err := s.send(addr, auth, from, email.Recipients, msg); err != nil {
		return fmt.Errorf("smtp %s: %w", email.ServerID, err)
	}
	return nil
}

func compose(from string, email domain.Email, at time.Time) []byte {
	contentType := "text/html; charset=UTF-8"
	if email.Format == "text" {
		contentType = "text/plain; charset=UTF-8"
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(email.Recipients, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", email.Subject) + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))
	return []byte(b.String())
}
