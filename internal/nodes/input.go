package nodes

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

// InactivityOptions configure the timer armed while an input node waits.
type InactivityOptions struct {
	// ChatTimeout is the delay before the first warning (or diversion without warnings).
	ChatTimeout time.Duration `mapstructure:"chat_timeout"`
	// WarningMessage is sent every time an attempt elapses.
	WarningMessage string `mapstructure:"warning_message"`
	// TimeBetweenAttempts is the delay between warnings.
	TimeBetweenAttempts time.Duration `mapstructure:"time_between_attempts"`
	// Attempts is the number of warnings before the conversation is diverted.
	Attempts int `mapstructure:"attempts"`
}

// Enabled reports whether a timer must be armed.
func (o *InactivityOptions) Enabled() bool {
	return o != nil && o.ChatTimeout > 0
}

type inputConfig struct {
	Variable    string             `mapstructure:"variable"`
	Text        string             `mapstructure:"text"`
	MessageType string             `mapstructure:"message_type"`
	Validation  string             `mapstructure:"validation"`
	Inactivity  *InactivityOptions `mapstructure:"inactivity_options"`

	Interactive map[string]any `mapstructure:"interactive_message"`
}

// Input prompts for a value, suspends, and stores the reply under Variable.
type Input struct {
	header
	cfg    inputConfig
	prompt func(ctx context.Context, req *Request) error
}

func newInput(def *domain.NodeDefinition, env *Env) (Node, error) {
	n, err := buildInput(def, env)
	if err != nil {
		return nil, err
	}
	if n.cfg.MessageType == "" {
		n.cfg.MessageType = domain.MsgText
	}
	n.prompt = n.textPrompt
	return n, nil
}

func newInteractiveInput(def *domain.NodeDefinition, env *Env) (Node, error) {
	n, err := buildInput(def, env)
	if err != nil {
		return nil, err
	}
	if len(n.cfg.Interactive) == 0 {
		return nil, fmt.Errorf("interactive_input needs interactive_message")
	}
	n.cfg.MessageType = domain.MsgInteractiveQuick
	if t, _ := n.cfg.Interactive["type"].(string); t == "list" {
		n.cfg.MessageType = domain.MsgInteractiveList
	}
	n.prompt = n.interactivePrompt
	return n, nil
}

func buildInput(def *domain.NodeDefinition, env *Env) (*Input, error) {
	var cfg inputConfig
	if err := decodeWith(def, &cfg, durationHook); err != nil {
		return nil, err
	}
	if cfg.Variable == "" {
		return nil, fmt.Errorf("%s needs variable", def.Kind)
	}
	if o := cfg.Inactivity; o != nil {
		if o.Attempts < 0 || o.ChatTimeout < 0 || o.TimeBetweenAttempts < 0 {
			return nil, fmt.Errorf("inactivity_options must not be negative")
		}
		if o.Attempts > 0 && o.TimeBetweenAttempts == 0 {
			o.TimeBetweenAttempts = o.ChatTimeout
		}
	}
	return &Input{header: header{def: def, env: env}, cfg: cfg}, nil
}

// Inactivity returns the timer options, nil when disabled.
func (n *Input) Inactivity() *InactivityOptions {
	if !n.cfg.Inactivity.Enabled() {
		return nil
	}
	return n.cfg.Inactivity
}

func (n *Input) Execute(ctx context.Context, req *Request) (Outcome, error) {
	if req.Input == nil {
		if err := n.prompt(ctx, req); err != nil {
			return Outcome{}, err
		}
		return Outcome{Directive: Wait, Inactivity: n.Inactivity()}, nil
	}

	value := req.Input.Body
	updates := map[string]string{n.cfg.Variable: value}

	key := domain.OutcomeDefault
	if n.cfg.Validation != "" {
		vars := req.Vars.With(map[string]string{domain.VarInput: value})
		vars.Merge(updates)
		out, err := vars.RenderString("validation", n.cfg.Validation)
		if err != nil {
			n.log(req).Warn("validation not rendered", "err", err)
		} else if out = strings.TrimSpace(out); out != "" {
			key = out
		}
	}
	return advance(key, updates), nil
}

func (n *Input) textPrompt(ctx context.Context, req *Request) error {
	body := n.renderOrLiteral(req, "text", n.cfg.Text)
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return n.send(ctx, req, domain.Content{MsgType: n.cfg.MessageType, Body: body})
}

func (n *Input) interactivePrompt(ctx context.Context, req *Request) error {
	rendered, err := req.Vars.Render("interactive_message", n.cfg.Interactive)
	if err != nil {
		n.log(req).Warn("interactive message left unrendered", "err", err)
		rendered = n.cfg.Interactive
	}
	msg := rendered.(map[string]any)

	body := ""
	for _, k := range []string{"text", "body", "title"} {
		if v, ok := msg[k]; ok {
			body = template.Stringify(v)
			break
		}
	}
	if content, ok := msg["content"].(map[string]any); ok && body == "" {
		body = template.Stringify(content["text"])
	}

	return n.send(ctx, req, domain.Content{
		MsgType:     n.cfg.MessageType,
		Body:        body,
		Interactive: msg,
	})
}

// durationHook accepts Go durations ("90s") and plain numbers of seconds.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(v)
	}
	return data, nil
}

var durationType = reflect.TypeOf(time.Duration(0))
