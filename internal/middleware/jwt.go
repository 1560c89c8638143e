package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

// ExpirySkew refreshes tokens this long before their exp claim.
const ExpirySkew = 30 * time.Second

type token struct {
	value   string
	expires time.Time // zero for opaque tokens
	vars    map[string]string
}

func (t token) valid(now time.Time) bool {
	if t.value == "" {
		return false
	}
	return t.expires.IsZero() || now.Add(ExpirySkew).Before(t.expires)
}

// JWT obtains a bearer token from the auth endpoint and caches it per conversation.
// Concurrent fetches for the same conversation are collapsed into one call.
type JWT struct {
	base
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]token
	group  singleflight.Group
}

// NewJWT creates a jwt middleware using client for the auth call.
func NewJWT(cfg Config, client *http.Client, logger *slog.Logger) *JWT {
	if client == nil {
		client = http.DefaultClient
	}
	return &JWT{
		base:   base{cfg: cfg},
		client: client,
		logger: logger,
		now:    time.Now,
		tokens: make(map[string]token),
	}
}

func (j *JWT) Context(key domain.ConversationKey) map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.tokens[key.String()]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(t.vars))
	for k, v := range t.vars {
		out[k] = v
	}
	return out
}

func (j *JWT) Unauthorized(key domain.ConversationKey) {
	j.mu.Lock()
	delete(j.tokens, key.String())
	j.mu.Unlock()
}

func (j *JWT) Prepare(ctx context.Context, call *Call) error {
	if err := j.base.Prepare(ctx, call); err != nil {
		return err
	}
	t, err := j.token(ctx, call)
	if err != nil {
		return err
	}
	call.Request.Header.Set("Authorization", tokenType(j.cfg)+" "+t.value)
	return nil
}

func (j *JWT) token(ctx context.Context, call *Call) (token, error) {
	id := call.Key.String()

	j.mu.Lock()
	cached, ok := j.tokens[id]
	j.mu.Unlock()
	if ok && cached.valid(j.now()) {
		return cached, nil
	}

	v, err, _ := j.group.Do(id, func() (any, error) {
		t, err := j.fetch(ctx, call.Vars)
		if err != nil {
			return token{}, err
		}
		j.mu.Lock()
		j.tokens[id] = t
		j.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return token{}, err
	}
	return v.(token), nil
}

// fetch performs the auth call and extracts the configured variables.
func (j *JWT) fetch(ctx context.Context, vars *template.Context) (token, error) {
	req, err := j.authRequest(ctx, vars)
	if err != nil {
		return token{}, err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return token{}, &domain.TransportError{Op: "middleware " + j.cfg.ID + " auth", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return token{}, &domain.TransportError{Op: "middleware " + j.cfg.ID + " auth", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return token{}, fmt.Errorf("middleware %s: auth returned status %d", j.cfg.ID, resp.StatusCode)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return token{}, fmt.Errorf("middleware %s: decode auth response: %w", j.cfg.ID, err)
	}

	t := token{vars: make(map[string]string)}
	for name, path := range j.cfg.Auth.Variables {
		v, ok := template.Extract(payload, path)
		if !ok {
			continue
		}
		if name == "token" {
			t.value = template.Stringify(v)
			continue
		}
		t.vars[name] = template.Stringify(v)
	}
	if t.value == "" {
		return token{}, fmt.Errorf("middleware %s: auth response has no token", j.cfg.ID)
	}
	t.expires = expiry(t.value)

	if j.logger != nil {
		j.logger.Debug("middleware token refreshed", "middleware", j.cfg.ID, "expires", t.expires)
	}
	return t, nil
}

func (j *JWT) authRequest(ctx context.Context, vars *template.Context) (*http.Request, error) {
	auth := j.cfg.Auth
	method := strings.ToUpper(auth.Method)
	if method == "" {
		method = http.MethodPost
	}

	target := strings.TrimRight(j.cfg.URL, "/")
	if auth.TokenPath != "" {
		target += "/" + strings.TrimLeft(auth.TokenPath, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("middleware %s: invalid url: %w", j.cfg.ID, err)
	}
	if len(auth.QueryParams) > 0 {
		q := u.Query()
		for k, v := range auth.QueryParams {
			rendered, err := render(vars, "auth.query_params."+k, v)
			if err != nil {
				continue
			}
			q.Set(k, rendered)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case len(auth.JSON) > 0:
		payload := any(auth.JSON)
		if vars != nil {
			if payload, err = vars.Render("auth.json", auth.JSON); err != nil {
				return nil, fmt.Errorf("middleware %s: %w", j.cfg.ID, err)
			}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("middleware %s: encode auth json: %w", j.cfg.ID, err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	case len(auth.Data) > 0:
		form := url.Values{}
		for k, v := range auth.Data {
			rendered, err := render(vars, "auth.data."+k, template.Stringify(v))
			if err != nil {
				return nil, fmt.Errorf("middleware %s: %w", j.cfg.ID, err)
			}
			form.Set(k, rendered)
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("middleware %s: build auth request: %w", j.cfg.ID, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range auth.Headers {
		rendered, err := render(vars, "auth.headers."+k, v)
		if err != nil {
			continue
		}
		req.Header.Set(k, rendered)
	}
	if !auth.BasicAuth.empty() {
		login, err := render(vars, "auth.basic_auth.login", auth.BasicAuth.Login)
		if err != nil {
			return nil, fmt.Errorf("middleware %s: %w", j.cfg.ID, err)
		}
		password, err := render(vars, "auth.basic_auth.password", auth.BasicAuth.Password)
		if err != nil {
			return nil, fmt.Errorf("middleware %s: %w", j.cfg.ID, err)
		}
		req.SetBasicAuth(login, password)
	}
	return req, nil
}

// expiry reads the exp claim without verifying the signature; the issuer is the
// auth endpoint itself, we only need to know when to ask again.
func expiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
