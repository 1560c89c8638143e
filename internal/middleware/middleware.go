// Package middleware provides the authentication and context providers that can be
// attached to http_request nodes, plus the per-conversation retry accounting used to
// break authentication loops.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

// Type identifies a middleware implementation.
type Type string

const (
	TypeJWT   Type = "jwt"
	TypeBasic Type = "basic"
	TypeBase  Type = "base"
	TypeIRM   Type = "irm"
	TypeASR   Type = "asr"
)

// DefaultTokenType is the Authorization scheme used when token_type is empty.
const DefaultTokenType = "Bearer"

// Call is a single outbound request being prepared by an http_request node.
type Call struct {
	Key     domain.ConversationKey
	Vars    *template.Context
	Request *http.Request
}

// Middleware decorates outbound requests of the http_request nodes it is attached to.
type Middleware interface {
	ID() string
	Type() Type
	// Attempts is the number of consecutive 401 responses tolerated on the same node.
	Attempts() int
	// Context returns transient variables exposed to the node templates.
	Context(key domain.ConversationKey) map[string]string
	// Prepare injects credentials and general headers into the request.
	Prepare(ctx context.Context, call *Call) error
	// Unauthorized drops any cached credentials for the conversation.
	Unauthorized(key domain.ConversationKey)
}

// Config is the flow-utils declaration of a middleware.
type Config struct {
	ID        string         `mapstructure:"id"`
	Type      Type           `mapstructure:"type"`
	URL       string         `mapstructure:"url"`
	TokenType string         `mapstructure:"token_type"`
	Attempts  int            `mapstructure:"attempts"`
	Auth      AuthConfig     `mapstructure:"auth"`
	General   GeneralConfig  `mapstructure:"general"`
	Method    string         `mapstructure:"method"`
	Context   map[string]any `mapstructure:"context"`
}

// AuthConfig describes how credentials are obtained.
type AuthConfig struct {
	Method      string            `mapstructure:"method"`
	TokenPath   string            `mapstructure:"token_path"`
	Headers     map[string]string `mapstructure:"headers"`
	QueryParams map[string]string `mapstructure:"query_params"`
	Data        map[string]any    `mapstructure:"data"`
	JSON        map[string]any    `mapstructure:"json"`
	BasicAuth   BasicAuth         `mapstructure:"basic_auth"`
	// Variables maps names to JSON paths in the auth response. "token" is required for jwt.
	Variables map[string]string `mapstructure:"variables"`
}

// BasicAuth holds basic credentials; both fields are templates.
type BasicAuth struct {
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"`
}

func (b BasicAuth) empty() bool { return b.Login == "" && b.Password == "" }

// GeneralConfig holds headers sent on every decorated request.
type GeneralConfig struct {
	Headers map[string]string `mapstructure:"headers"`
}

// base implements the shared parts: identity, attempts and general headers.
type base struct {
	cfg Config
}

func (b *base) ID() string    { return b.cfg.ID }
func (b *base) Type() Type    { return b.cfg.Type }
func (b *base) Attempts() int { return b.cfg.Attempts }

func (b *base) Context(key domain.ConversationKey) map[string]string {
	return nil
}

func (b *base) Unauthorized(key domain.ConversationKey) {}

func (b *base) Prepare(ctx context.Context, call *Call) error {
	return applyHeaders(call, "general.headers", b.cfg.General.Headers)
}

// applyHeaders renders and sets each header; failed renders are skipped.
func applyHeaders(call *Call, field string, headers map[string]string) error {
	for name, value := range headers {
		rendered, err := render(call.Vars, field+"."+name, value)
		if err != nil {
			continue
		}
		call.Request.Header.Set(name, rendered)
	}
	return nil
}

func render(vars *template.Context, field, value string) (string, error) {
	if vars == nil {
		return value, nil
	}
	return vars.RenderString(field, value)
}

func tokenType(cfg Config) string {
	if t := strings.TrimSpace(cfg.TokenType); t != "" {
		return t
	}
	return DefaultTokenType
}
