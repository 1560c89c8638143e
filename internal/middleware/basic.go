package middleware

import (
	"context"
	"fmt"
)

// Basic sets HTTP basic credentials from auth.basic_auth on every request.
type Basic struct {
	base
}

// NewBasic creates a basic-auth middleware.
func NewBasic(cfg Config) *Basic {
	return &Basic{base: base{cfg: cfg}}
}

func (b *Basic) Prepare(ctx context.Context, call *Call) error {
	if err := b.base.Prepare(ctx, call); err != nil {
		return err
	}
	login, err := render(call.Vars, "auth.basic_auth.login", b.cfg.Auth.BasicAuth.Login)
	if err != nil {
		return fmt.Errorf("middleware %s: %w", b.cfg.ID, err)
	}
	password, err := render(call.Vars, "auth.basic_auth.password", b.cfg.Auth.BasicAuth.Password)
	if err != nil {
		return fmt.Errorf("middleware %s: %w", b.cfg.ID, err)
	}
	call.Request.SetBasicAuth(login, password)
	return nil
}

// NewBase creates a middleware that only adds general headers.
func NewBase(cfg Config) Middleware {
	return &base{cfg: cfg}
}
