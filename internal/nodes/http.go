package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/menuflow/internal/middleware"
	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

// MaxResponseSize bounds the response bodies read by http_request nodes.
// Larger bodies resolve as a 500 outcome.
var MaxResponseSize int64 = 10 << 20

// ErrTooLarge is returned when a downloaded body exceeds its size limit.
var ErrTooLarge = errors.New("body too large")

type httpConfig struct {
	Method      string         `mapstructure:"method"`
	URL         string         `mapstructure:"url"`
	Middleware  string         `mapstructure:"middleware"`
	Variables   map[string]any `mapstructure:"variables"`
	Cookies     map[string]any `mapstructure:"cookies"`
	Headers     map[string]any `mapstructure:"headers"`
	QueryParams map[string]any `mapstructure:"query_params"`
	BasicAuth   map[string]any `mapstructure:"basic_auth"`
	Data        map[string]any `mapstructure:"data"`
	JSON        map[string]any `mapstructure:"json"`
}

// HTTPRequest issues one outbound call and routes on the response status.
type HTTPRequest struct {
	header
	cfg        httpConfig
	middleware middleware.Middleware
	varNames   []string
}

func newHTTPRequest(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg httpConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http_request needs url")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	n := &HTTPRequest{header: header{def: def, env: env}, cfg: cfg}
	if cfg.Middleware != "" {
		mw, ok := env.Middlewares.Get(cfg.Middleware)
		if !ok {
			return nil, fmt.Errorf("middleware %q is not declared", cfg.Middleware)
		}
		n.middleware = mw
	}
	for name := range cfg.Variables {
		n.varNames = append(n.varNames, name)
	}
	sort.Strings(n.varNames)
	return n, nil
}

func (n *HTTPRequest) Execute(ctx context.Context, req *Request) (Outcome, error) {
	logger := n.log(req)
	key := req.Conversation.Key

	vars := req.Vars
	if n.middleware != nil {
		transient := map[string]string{
			domain.VarBotMXID:        n.botID(key),
			domain.VarCustomerRoomID: key.RoomID,
		}
		for k, v := range n.middleware.Context(key) {
			transient[k] = v
		}
		vars = vars.With(transient)
	}

	hreq, err := n.build(ctx, vars)
	if err != nil {
		return Outcome{}, err
	}

	status, resp, err := n.do(ctx, key, vars, hreq)
	if err != nil {
		logger.Error("http request failed", "url", hreq.URL.Redacted(), "err", err)
		return Outcome{Key: strconv.Itoa(http.StatusInternalServerError), Directive: AdvanceCaseOnly}, nil
	}
	logger.Info("http request", "method", hreq.Method, "url", hreq.URL.Redacted(), "status", status)

	if status == http.StatusUnauthorized {
		return n.unauthorized(req), nil
	}

	updates := n.extract(req, resp)
	if n.middleware != nil {
		n.env.Retries.Record(key.String(), n.def.ID, status, n.middleware.Attempts())
	}
	return advance(strconv.Itoa(status), updates), nil
}

type response struct {
	body    []byte
	cookies []*http.Cookie
}

func (n *HTTPRequest) do(ctx context.Context, key domain.ConversationKey, vars *template.Context, hreq *http.Request) (int, response, error) {
	if n.middleware != nil {
		call := &middleware.Call{Key: key, Vars: vars, Request: hreq}
		if err := n.middleware.Prepare(ctx, call); err != nil {
			return 0, response{}, err
		}
	}

	resp, err := n.env.HTTP.Do(hreq)
	if err != nil {
		return 0, response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return 0, response{}, err
	}
	if int64(len(body)) > MaxResponseSize {
		return 0, response{}, fmt.Errorf("%w: response exceeds %d bytes", ErrTooLarge, MaxResponseSize)
	}
	return resp.StatusCode, response{body: body, cookies: resp.Cookies()}, nil
}

// unauthorized resolves a 401. With a middleware the credentials are dropped and the
// node is repeated until the attempt cap diverts it to the default case.
func (n *HTTPRequest) unauthorized(req *Request) Outcome {
	key := req.Conversation.Key
	if n.middleware == nil {
		if len(n.def.Cases) == 0 {
			return Outcome{Directive: End}
		}
		if _, ok := n.def.Case(strconv.Itoa(http.StatusUnauthorized)); ok {
			return Outcome{Key: strconv.Itoa(http.StatusUnauthorized), Directive: AdvanceCaseOnly}
		}
		return Outcome{Directive: Hold}
	}

	n.middleware.Unauthorized(key)
	if n.env.Retries.Record(key.String(), n.def.ID, http.StatusUnauthorized, n.middleware.Attempts()) {
		n.log(req).Warn("authentication attempts exhausted, following default case",
			"middleware", n.middleware.ID(), "attempts", n.middleware.Attempts())
		return advance(domain.OutcomeDefault, nil)
	}
	return Outcome{Directive: Repeat}
}

func (n *HTTPRequest) botID(key domain.ConversationKey) string {
	if key.Kind == domain.KindRoute && key.ClientID != "" {
		return key.ClientID
	}
	return n.env.BotID
}

// build renders the request. Method and url are mandatory; optional fields that fail
// to render are skipped.
func (n *HTTPRequest) build(ctx context.Context, vars *template.Context) (*http.Request, error) {
	method, err := vars.RenderString("method", n.cfg.Method)
	if err != nil {
		return nil, err
	}
	rawURL, err := vars.RenderString("url", n.cfg.URL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &domain.RenderError{Field: "url", Err: err}
	}

	params, errs := vars.RenderFields("query_params", n.cfg.QueryParams)
	n.skipped(errs)
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case len(n.cfg.JSON) > 0:
		payload := n.renderTree(vars, "json", n.cfg.JSON)
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	case len(n.cfg.Data) > 0:
		data, errs := vars.RenderFields("data", n.cfg.Data)
		n.skipped(errs)
		form := url.Values{}
		for k, v := range data {
			form.Set(k, v)
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	hreq, err := http.NewRequestWithContext(ctx, strings.ToUpper(strings.TrimSpace(method)), u.String(), body)
	if err != nil {
		return nil, &domain.RenderError{Field: "method", Err: err}
	}
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}

	headers, errs := vars.RenderFields("headers", n.cfg.Headers)
	n.skipped(errs)
	for k, v := range headers {
		hreq.Header.Set(k, v)
	}

	if len(n.cfg.BasicAuth) > 0 {
		creds, errs := vars.RenderFields("basic_auth", n.cfg.BasicAuth)
		if len(errs) == 0 {
			hreq.SetBasicAuth(creds["login"], creds["password"])
		} else {
			n.skipped(errs)
		}
	}
	return hreq, nil
}

// renderTree renders a nested body, dropping the top-level entries that fail.
func (n *HTTPRequest) renderTree(vars *template.Context, field string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		r, err := vars.Render(field+"."+k, v)
		if err != nil {
			n.skipped([]error{err})
			continue
		}
		out[k] = r
	}
	return out
}

func (n *HTTPRequest) skipped(errs []error) {
	for _, err := range errs {
		n.env.Logger.Debug("optional field skipped", "node_id", n.def.ID, "err", err)
	}
}

// extract pulls the configured variables out of the response.
// A JSON object is addressed by path; a JSON string or a non JSON body goes whole
// into the first variable.
func (n *HTTPRequest) extract(req *Request, resp response) map[string]string {
	updates := make(map[string]string)

	if len(n.cfg.Cookies) > 0 {
		jar := make(map[string]string, len(resp.cookies))
		for _, c := range resp.cookies {
			jar[c.Name] = c.Value
		}
		for variable, name := range n.cfg.Cookies {
			cookie := template.Stringify(name)
			if cookie == "" {
				cookie = variable
			}
			if v, ok := jar[cookie]; ok {
				updates[variable] = v
			}
		}
	}

	if len(n.varNames) == 0 {
		return updates
	}

	// UseNumber keeps integers beyond 2^53 exact.
	var payload any
	dec := json.NewDecoder(bytes.NewReader(resp.body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil || dec.More() {
		payload = string(resp.body)
	}

	switch data := payload.(type) {
	case map[string]any:
		for _, name := range n.varNames {
			path, err := req.Vars.RenderString("variables."+name, template.Stringify(n.cfg.Variables[name]))
			if err != nil {
				n.skipped([]error{err})
				continue
			}
			if v, ok := template.Extract(data, path); ok {
				updates[name] = template.Stringify(v)
			}
		}
	case string:
		if strings.TrimSpace(data) != "" {
			updates[n.varNames[0]] = data
		}
	}
	return updates
}
