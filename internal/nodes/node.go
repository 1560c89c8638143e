// Package nodes implements the node kinds of a flow. Each kind decodes its fields once at
// compile time and executes against a conversation snapshot, returning an Outcome that the
// interpreter resolves into the next node.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/internal/middleware"
	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

// Directive tells the interpreter how to continue after a node.
type Directive int

const (
	// Advance resolves Key through the node cases, the default case, the node
	// default edge and the flow default edge, in that order.
	Advance Directive = iota
	// AdvanceCaseOnly resolves Key through the declared cases only, else the conversation ends.
	AdvanceCaseOnly
	// Wait suspends the conversation on the node until input arrives.
	Wait
	// Repeat executes the same node again within the trigger.
	Repeat
	// Hold keeps the conversation on the node and stops the trigger.
	Hold
	// End finishes the conversation.
	End
)

func (d Directive) String() string {
	switch d {
	case Advance:
		return "advance"
	case AdvanceCaseOnly:
		return "advance_case_only"
	case Wait:
		return "wait"
	case Repeat:
		return "repeat"
	case Hold:
		return "hold"
	case End:
		return "end"
	}
	return fmt.Sprintf("directive(%d)", int(d))
}

// Outcome is the result of executing a node.
type Outcome struct {
	Key       string
	Updates   map[string]string
	Directive Directive

	// Inactivity is set by input nodes that suspend with a timer.
	Inactivity *InactivityOptions
}

func advance(key string, updates map[string]string) Outcome {
	return Outcome{Key: key, Updates: updates, Directive: Advance}
}

// Request is the per-execution input of a node.
type Request struct {
	// Conversation is a snapshot; nodes must not mutate it.
	Conversation *domain.Conversation
	Vars         *template.Context
	// Input is the inbound message being delivered to a suspended input node.
	Input *domain.Message
}

// Node is a compiled flow node.
type Node interface {
	Definition() *domain.NodeDefinition
	Execute(ctx context.Context, req *Request) (Outcome, error)
}

// Env holds the capabilities shared by every node.
type Env struct {
	Transport   ports.Transport
	Email       ports.EmailSender
	HTTP        *http.Client
	Middlewares *middleware.Registry
	Retries     *middleware.RetryTracker
	Media       *MediaCache

	// BotID identifies the chat client for room conversations.
	BotID string

	Now    func() time.Time
	Logger *slog.Logger
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.HTTP == nil {
		out.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if out.Retries == nil {
		out.Retries = middleware.NewRetryTracker()
	}
	if out.Media == nil {
		out.Media = NewMediaCache()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Logger == nil {
		out.Logger = logging.NewNop()
	}
	return &out
}

type builder func(def *domain.NodeDefinition, env *Env) (Node, error)

var builders = map[domain.NodeKind]builder{
	domain.KindMessage:          newMessage,
	domain.KindMedia:            newMedia,
	domain.KindEmail:            newEmail,
	domain.KindLocation:         newLocation,
	domain.KindCheckTime:        newCheckTime,
	domain.KindSwitch:           newSwitch,
	domain.KindInput:            newInput,
	domain.KindInteractiveInput: newInteractiveInput,
	domain.KindHTTPRequest:      newHTTPRequest,
}

// Compile selects the implementation of every node once. All configuration problems
// are reported together in a *domain.GraphConfigError.
func Compile(flow *domain.Flow, env *Env) (map[string]Node, error) {
	env = env.withDefaults()
	out := make(map[string]Node, len(flow.Nodes))
	var problems []string

	for _, def := range flow.List() {
		build, ok := builders[def.Kind]
		if !ok {
			problems = append(problems, fmt.Sprintf("node %q has unknown type %q", def.ID, def.Kind))
			continue
		}
		n, err := build(def, env)
		if err != nil {
			problems = append(problems, fmt.Sprintf("node %q: %v", def.ID, err))
			continue
		}
		out[def.ID] = n
	}

	if len(problems) > 0 {
		return nil, &domain.GraphConfigError{Problems: problems}
	}
	return out, nil
}

// decode maps the kind-specific fields of a definition into a typed config.
func decode(def *domain.NodeDefinition, out any) error {
	return decodeWith(def, out, mapstructure.StringToTimeDurationHookFunc())
}

func decodeWith(def *domain.NodeDefinition, out any, hook mapstructure.DecodeHookFunc) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       hook,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(def.Fields)
}

// header is embedded by every node.
type header struct {
	def *domain.NodeDefinition
	env *Env
}

func (h header) Definition() *domain.NodeDefinition { return h.def }

func (h header) log(req *Request) *slog.Logger {
	return h.env.Logger.With(
		"conversation_id", req.Conversation.Key.String(),
		"node_id", h.def.ID,
		"node_type", string(h.def.Kind),
	)
}

// renderOrLiteral renders a content field, falling back to the raw text.
func (h header) renderOrLiteral(req *Request, field, s string) string {
	out, err := req.Vars.RenderString(field, s)
	if err != nil {
		h.log(req).Warn("template left unrendered", "field", field, "err", err)
		return s
	}
	return out
}

// send delivers content through the transport, wrapping failures.
func (h header) send(ctx context.Context, req *Request, content domain.Content) error {
	if h.env.Transport == nil {
		return &domain.TransportError{Op: "send " + h.def.ID, Err: fmt.Errorf("no transport configured")}
	}
	if err := h.env.Transport.SendMessage(ctx, req.Conversation.Key, content); err != nil {
		return &domain.TransportError{Op: "send " + h.def.ID, Err: err}
	}
	return nil
}
