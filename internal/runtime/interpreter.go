// Package runtime drives conversations through a compiled flow.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/internal/middleware"
	"github.com/aretw0/menuflow/internal/nodes"
	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
	"github.com/aretw0/menuflow/pkg/session"
)

// DefaultMaxSteps bounds the nodes executed by a single trigger.
const DefaultMaxSteps = 50

// StateHook observes every committed change of a conversation.
type StateHook func(key domain.ConversationKey, diff *domain.StateDiff)

// Interpreter executes a flow for many conversations. Triggers of the same
// conversation are serialized by the session manager; different conversations run
// in parallel.
type Interpreter struct {
	flow     *domain.Flow
	nodes    map[string]nodes.Node
	env      *nodes.Env
	sessions *session.Manager
	timers   *Timers

	sink     ports.EventSink
	users    ports.UserStore
	hooks    []StateHook
	maxSteps int
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Interpreter.
type Option func(*Interpreter)

// WithMaxSteps bounds the nodes executed per trigger.
func WithMaxSteps(n int) Option {
	return func(i *Interpreter) {
		if n > 0 {
			i.maxSteps = n
		}
	}
}

// WithEventSink sets the sink notified after every node.
func WithEventSink(sink ports.EventSink) Option {
	return func(i *Interpreter) {
		i.sink = sink
	}
}

// WithUserStore enables echo suppression for the engine's registered accounts.
func WithUserStore(users ports.UserStore) Option {
	return func(i *Interpreter) {
		i.users = users
	}
}

// WithStateHook registers an observer of committed changes.
func WithStateHook(hook StateHook) Option {
	return func(i *Interpreter) {
		i.hooks = append(i.hooks, hook)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// New compiles the flow and creates an interpreter.
func New(flow *domain.Flow, env *nodes.Env, sessions *session.Manager, opts ...Option) (*Interpreter, error) {
	if env == nil {
		env = &nodes.Env{}
	}
	i := &Interpreter{
		flow:     flow,
		env:      env,
		sessions: sessions,
		timers:   NewTimers(),
		maxSteps: DefaultMaxSteps,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if env.Logger == nil {
		env.Logger = i.logger
	}
	if env.Now != nil {
		i.now = env.Now
	}
	if env.Retries == nil {
		env.Retries = middleware.NewRetryTracker()
	}
	if env.Media == nil {
		env.Media = nodes.NewMediaCache()
	}

	compiled, err := nodes.Compile(flow, env)
	if err != nil {
		return nil, err
	}
	i.nodes = compiled
	return i, nil
}

// Process handles a trigger for a conversation: first contact (msg == nil) or an incoming message.
// Transport and persistence failures abort the trigger without committing the failed step.
func (i *Interpreter) Process(ctx context.Context, key domain.ConversationKey, msg *domain.Message) (*ports.StepResult, error) {
	if msg != nil && i.isEcho(ctx, key, msg) {
		i.logger.Debug("ignoring echo", "conversation_id", key.String(), "sender", msg.Sender)
		return &ports.StepResult{Ignored: true}, nil
	}

	var result *ports.StepResult
	err := i.sessions.WithLock(ctx, key, func(ctx context.Context) error {
		conv, created, err := i.sessions.LoadOrCreate(ctx, key)
		if err != nil {
			return err
		}
		if created {
			i.logger.Info("conversation created", "conversation_id", key.String())
		}
		result, err = i.run(ctx, conv, msg)
		return err
	})
	return result, err
}

// Reset puts a conversation back at the start of the flow.
func (i *Interpreter) Reset(ctx context.Context, key domain.ConversationKey, clearVariables bool) error {
	return i.sessions.WithLock(ctx, key, func(ctx context.Context) error {
		conv, err := i.sessions.Store().Load(ctx, key)
		if err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
		i.timers.Cancel(key.String())
		if i.env.Retries != nil {
			i.env.Retries.Forget(key.String())
		}

		next := conv.Clone()
		next.NodeID = ""
		next.State = domain.StateStart
		if clearVariables {
			next.Variables = make(map[string]string)
		}
		if err := i.sessions.Save(ctx, next); err != nil {
			return err
		}
		i.logger.Info("conversation reset", "conversation_id", key.String(), "clear_variables", clearVariables)
		i.notify(conv, next)
		return nil
	})
}

// Conversation returns the persisted state of a conversation.
func (i *Interpreter) Conversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return i.sessions.Load(ctx, key)
}

// Flow returns the flow being executed.
func (i *Interpreter) Flow() *domain.Flow {
	return i.flow
}

// Timers lists the armed inactivity timers.
func (i *Interpreter) Timers() []TimerInfo {
	return i.timers.Active()
}

// Close cancels every pending timer.
func (i *Interpreter) Close() error {
	i.timers.Stop()
	return nil
}

// Status derives the execution status of a persisted conversation.
func (i *Interpreter) Status(conv *domain.Conversation) domain.ExecutionStatus {
	switch conv.State {
	case domain.StateEnd:
		return domain.StatusEnded
	case domain.StateBlocked:
		return domain.StatusBlocked
	case domain.StateInput:
		if i.timers.Armed(conv.Key.String()) {
			return domain.StatusSuspendedTimer
		}
		return domain.StatusSuspendedInput
	}
	return domain.StatusRunning
}

func (i *Interpreter) isEcho(ctx context.Context, key domain.ConversationKey, msg *domain.Message) bool {
	if msg.Sender == "" {
		return false
	}
	if msg.Sender == key.ClientID || (i.env.BotID != "" && msg.Sender == i.env.BotID) {
		return true
	}
	if i.users == nil {
		return false
	}
	_, err := i.users.GetUser(ctx, msg.Sender)
	return err == nil
}

// run executes nodes until the conversation suspends, ends or the step budget is spent.
// It must be called while holding the conversation lock.
func (i *Interpreter) run(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (*ports.StepResult, error) {
	key := conv.Key
	logger := i.logger.With("conversation_id", key.String())
	result := &ports.StepResult{}

	var input *domain.Message
	resumed := false
	switch conv.State {
	case domain.StateEnd, domain.StateBlocked:
		logger.Debug("conversation is not running", "state", conv.State)
		return i.finish(result, conv), nil
	case domain.StateInput:
		if msg == nil {
			return i.finish(result, conv), nil
		}
		input = msg
		resumed = true
	}

	if conv.NodeID == "" {
		conv = conv.Clone()
		conv.NodeID = i.flow.Entry
		conv.State = domain.StateStart
	}

	for step := 0; ; step++ {
		if step >= i.maxSteps {
			logger.Warn("step limit reached", "node_id", conv.NodeID, "max_steps", i.maxSteps)
			return i.finish(result, conv), fmt.Errorf("conversation %s: %w", key, domain.ErrStepLimit)
		}

		node, ok := i.nodes[conv.NodeID]
		if !ok {
			err := &domain.GraphConfigError{Problems: []string{fmt.Sprintf("node %q does not exist", conv.NodeID)}}
			return i.block(ctx, result, conv, err)
		}
		def := node.Definition()

		vars := template.New(i.flow.Variables, conv.Variables)
		out, err := node.Execute(ctx, &nodes.Request{
			Conversation: conv.Clone(),
			Vars:         vars,
			Input:        input,
		})
		input = nil
		result.Visited = append(result.Visited, def.ID)

		if err != nil {
			var rerr *domain.RenderError
			var gerr *domain.GraphConfigError
			if errors.As(err, &rerr) || errors.As(err, &gerr) {
				return i.block(ctx, result, conv, err)
			}
			logger.Error("node failed, step not committed", "node_id", def.ID, "err", err)
			return nil, err
		}

		next := conv.Clone()
		next.SetVariables(out.Updates)
		edge, more := i.apply(next, def, out)

		if err := i.sessions.Save(ctx, next); err != nil {
			logger.Error("persist failed, step not committed", "node_id", def.ID, "err", err)
			return nil, err
		}
		// The pending timer stays armed until the resumed step is committed.
		if resumed {
			i.timers.Cancel(key.String())
			resumed = false
		}
		if out.Directive == nodes.Wait && out.Inactivity.Enabled() {
			i.arm(key, def.ID, out.Inactivity, 0)
		}

		logger.Debug("node executed",
			"node_id", def.ID,
			"node_type", string(def.Kind),
			"outcome", out.Key,
			"directive", out.Directive.String(),
			"next", edge,
		)
		i.notify(conv, next)
		i.publish(ctx, key, def, out.Key, edge, template.New(i.flow.Variables, next.Variables).Snapshot())

		conv = next
		if !more {
			return i.finish(result, conv), nil
		}
	}
}

// apply moves conv according to the outcome and reports the edge taken and whether
// execution continues within the trigger.
func (i *Interpreter) apply(conv *domain.Conversation, def *domain.NodeDefinition, out nodes.Outcome) (string, bool) {
	switch out.Directive {
	case nodes.Wait:
		conv.State = domain.StateInput
		return def.ID, false
	case nodes.Repeat:
		conv.State = domain.StateStart
		return def.ID, true
	case nodes.Hold:
		conv.State = domain.StateStart
		return def.ID, false
	case nodes.End:
		conv.State = domain.StateEnd
		return "", false
	case nodes.AdvanceCaseOnly:
		target, _ := def.Case(out.Key)
		return i.moveTo(conv, target)
	default:
		return i.moveTo(conv, i.resolve(def, out.Key))
	}
}

func (i *Interpreter) moveTo(conv *domain.Conversation, target string) (string, bool) {
	if target == "" {
		conv.State = domain.StateEnd
		return "", false
	}
	conv.NodeID = target
	conv.State = domain.StateStart
	return target, true
}

// resolve maps an outcome key to the next node: declared case, the "default" case,
// the node default edge, the flow default edge. An empty result is terminal.
func (i *Interpreter) resolve(def *domain.NodeDefinition, key string) string {
	if target, ok := def.Case(key); ok {
		return target
	}
	if target, ok := def.Case(domain.OutcomeDefault); ok {
		return target
	}
	if def.Default != "" {
		return def.Default
	}
	return i.flow.Default
}

// block halts the conversation until it is reset.
func (i *Interpreter) block(ctx context.Context, result *ports.StepResult, conv *domain.Conversation, cause error) (*ports.StepResult, error) {
	next := conv.Clone()
	next.State = domain.StateBlocked
	if err := i.sessions.Save(ctx, next); err != nil {
		return nil, err
	}
	i.timers.Cancel(conv.Key.String())
	i.logger.Error("conversation blocked",
		"conversation_id", conv.Key.String(),
		"node_id", conv.NodeID,
		"err", cause,
	)
	i.notify(conv, next)
	return i.finish(result, next), &domain.BlockedError{Key: conv.Key, NodeID: conv.NodeID, Err: cause}
}

func (i *Interpreter) finish(result *ports.StepResult, conv *domain.Conversation) *ports.StepResult {
	result.Conversation = conv
	result.Status = i.Status(conv)
	return result
}

func (i *Interpreter) notify(prev, next *domain.Conversation) {
	if len(i.hooks) == 0 {
		return
	}
	diff := domain.Diff(prev, next)
	if diff == nil {
		return
	}
	for _, hook := range i.hooks {
		hook(next.Key, diff)
	}
}

// publish notifies the event sink. Failures are logged and never affect the conversation.
func (i *Interpreter) publish(ctx context.Context, key domain.ConversationKey, def *domain.NodeDefinition, outcome, edge string, vars map[string]string) {
	if i.sink == nil {
		return
	}
	sender := i.env.BotID
	if key.Kind == domain.KindRoute {
		sender = key.ClientID
	}
	evt := domain.NodeEvent{
		ID:             uuid.NewString(),
		Timestamp:      i.now(),
		Type:           domain.EventNodeEntry,
		NodeType:       def.Kind,
		NodeID:         def.ID,
		ConversationID: key.RoomID,
		Sender:         sender,
		Edge:           edge,
		Outcome:        outcome,
		Variables:      vars,
		External:       def.SendEvent,
	}
	if err := i.sink.Publish(ctx, evt); err != nil {
		i.logger.Warn("event not published", "conversation_id", key.String(), "node_id", def.ID, "err", err)
	}
}
