package menuflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/menuflow/internal/compiler"
	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/internal/middleware"
	"github.com/aretw0/menuflow/internal/nodes"
	"github.com/aretw0/menuflow/internal/presentation/graph"
	"github.com/aretw0/menuflow/internal/runtime"
	"github.com/aretw0/menuflow/internal/validator"
	"github.com/aretw0/menuflow/pkg/adapters/memory"
	"github.com/aretw0/menuflow/pkg/adapters/smtp"
	"github.com/aretw0/menuflow/pkg/domain"
	persistence "github.com/aretw0/menuflow/pkg/persistence/middleware"
	"github.com/aretw0/menuflow/pkg/ports"
	"github.com/aretw0/menuflow/pkg/session"
)

// Version is set at build time with -ldflags "-X github.com/aretw0/menuflow.Version=...".
var Version = "dev"

// Defaults applied when the corresponding option is not given.
const (
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultMiddlewareTries = 3
)

// StateHook observes every committed change of a conversation.
type StateHook func(key domain.ConversationKey, diff *domain.StateDiff)

// Engine is the high-level entry point of the library. It validates and
// compiles a flow once and runs it for any number of conversations.
type Engine struct {
	interp *runtime.Interpreter
	flow   *domain.Flow
	report *validator.Report
	store  ports.StateStore
	logger *slog.Logger
}

type options struct {
	store            ports.StateStore
	storeMiddlewares []persistence.Middleware
	locker           ports.DistributedLocker
	transport        ports.Transport
	email            ports.EmailSender
	httpClient       *http.Client
	utils            *compiler.Utils
	utilsPath        string
	sink             ports.EventSink
	users            ports.UserStore
	hooks            []StateHook
	maxSteps         int
	defaultAttempts  int
	botID            string
	now              func() time.Time
	logger           *slog.Logger
}

// Option defines a functional option for configuring the Engine.
type Option func(*options)

// WithStore sets the conversation store (default: in-memory).
func WithStore(store ports.StateStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithStoreMiddleware wraps the store, e.g. with variable encryption.
func WithStoreMiddleware(mw persistence.Middleware) Option {
	return func(o *options) {
		o.storeMiddlewares = append(o.storeMiddlewares, mw)
	}
}

// WithLocker serializes triggers of a conversation across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithTransport sets the chat transport used by message, media, location and input nodes.
func WithTransport(t ports.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithEmailSender overrides the SMTP sender built from the flow-utils email servers.
func WithEmailSender(sender ports.EmailSender) Option {
	return func(o *options) {
		o.email = sender
	}
}

// WithHTTPClient sets the client used by http_request and media nodes and by middlewares.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithFlowUtilsFile loads middlewares and email servers from a flow-utils document.
// A missing file means none are configured.
func WithFlowUtilsFile(path string) Option {
	return func(o *options) {
		o.utilsPath = path
	}
}

// WithMiddlewares declares middlewares directly, in flow-utils form.
func WithMiddlewares(raw ...map[string]any) Option {
	return func(o *options) {
		if o.utils == nil {
			o.utils = &compiler.Utils{}
		}
		o.utils.Middlewares = append(o.utils.Middlewares, raw...)
	}
}

// WithEmailServers declares SMTP servers directly, in flow-utils form.
func WithEmailServers(servers ...domain.EmailServer) Option {
	return func(o *options) {
		if o.utils == nil {
			o.utils = &compiler.Utils{}
		}
		o.utils.EmailServers = append(o.utils.EmailServers, servers...)
	}
}

// WithEventSink sets the sink notified after every node.
func WithEventSink(sink ports.EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithUserStore enables echo suppression for the engine's own accounts.
func WithUserStore(users ports.UserStore) Option {
	return func(o *options) {
		o.users = users
	}
}

// WithStateHook registers an observer of committed changes.
func WithStateHook(hook StateHook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hook)
	}
}

// WithMaxSteps bounds the nodes executed by a single trigger.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		o.maxSteps = n
	}
}

// WithDefaultAttempts is the retry cap of middlewares that do not declare attempts.
// Values below one are ignored.
func WithDefaultAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultAttempts = n
		}
	}
}

// WithBotID sets the client identity exposed as bot_mxid to room conversations.
func WithBotID(id string) Option {
	return func(o *options) {
		o.botID = id
	}
}

// WithClock overrides the time source (check_time nodes, timestamps).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Load parses a flow document and creates an Engine for it.
func Load(flowPath string, opts ...Option) (*Engine, error) {
	flow, err := compiler.NewParser().ParseFile(flowPath)
	if err != nil {
		return nil, err
	}
	return New(flow, opts...)
}

// New validates the flow and creates an Engine. Invalid flows are rejected
// wholesale with a *domain.GraphConfigError.
func New(flow *domain.Flow, opts ...Option) (*Engine, error) {
	o := &options{
		defaultAttempts: DefaultMiddlewareTries,
		logger:          logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if flow.Name != "" {
		o.logger = o.logger.With("flow", flow.Name)
	}

	report, err := validator.ValidateFlow(flow)
	if err != nil {
		return nil, err
	}
	if len(report.Unreachable) > 0 {
		o.logger.Warn("Flow has unreachable nodes", "nodes", report.Unreachable)
	}

	utils := o.utils
	if o.utilsPath != "" {
		loaded, found, err := compiler.LoadUtils(o.utilsPath)
		if err != nil {
			return nil, err
		}
		if !found {
			o.logger.Info("No flow utils found, no middlewares configured", "path", o.utilsPath)
		}
		if utils != nil {
			loaded.Middlewares = append(loaded.Middlewares, utils.Middlewares...)
			loaded.EmailServers = append(loaded.EmailServers, utils.EmailServers...)
		}
		utils = loaded
	}
	if utils == nil {
		utils = &compiler.Utils{}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	registry, err := middleware.Build(utils.Middlewares, httpClient, o.defaultAttempts, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build middlewares: %w", err)
	}

	email := o.email
	if email == nil && len(utils.EmailServers) > 0 {
		email = smtp.NewSender(utils.EmailServers)
	}

	store := o.store
	if store == nil {
		store = memory.NewStore()
	}
	store = persistence.Chain(store, o.storeMiddlewares...)

	sessionOpts := []session.Option{session.WithLogger(o.logger)}
	if o.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(o.locker))
	}
	sessions := session.NewManager(store, sessionOpts...)

	env := &nodes.Env{
		Transport:   o.transport,
		Email:       email,
		HTTP:        httpClient,
		Middlewares: registry,
		BotID:       o.botID,
		Now:         o.now,
		Logger:      o.logger,
	}

	interpOpts := []runtime.Option{runtime.WithLogger(o.logger)}
	if o.maxSteps > 0 {
		interpOpts = append(interpOpts, runtime.WithMaxSteps(o.maxSteps))
	}
	if o.sink != nil {
		interpOpts = append(interpOpts, runtime.WithEventSink(o.sink))
	}
	if o.users != nil {
		interpOpts = append(interpOpts, runtime.WithUserStore(o.users))
	}
	for _, h := range o.hooks {
		interpOpts = append(interpOpts, runtime.WithStateHook(runtime.StateHook(h)))
	}

	interp, err := runtime.New(flow, env, sessions, interpOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		interp: interp,
		flow:   flow,
		report: report,
		store:  store,
		logger: o.logger,
	}, nil
}

// Process handles a trigger: first contact (msg == nil) or an incoming message.
func (e *Engine) Process(ctx context.Context, key domain.ConversationKey, msg *domain.Message) (*ports.StepResult, error) {
	return e.interp.Process(ctx, key, msg)
}

// Reset puts a conversation back at the start of the flow.
func (e *Engine) Reset(ctx context.Context, key domain.ConversationKey, clearVariables bool) error {
	return e.interp.Reset(ctx, key, clearVariables)
}

// Conversation returns the persisted state of a conversation.
func (e *Engine) Conversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.interp.Conversation(ctx, key)
}

// Conversations lists the stored conversations of a kind.
func (e *Engine) Conversations(ctx context.Context, kind domain.ConversationKind) ([]domain.ConversationKey, error) {
	return e.store.List(ctx, kind)
}

// Status is the interpreter-level view of a conversation.
func (e *Engine) Status(conv *domain.Conversation) domain.ExecutionStatus {
	return e.interp.Status(conv)
}

// Flow returns the loaded flow definition.
func (e *Engine) Flow() *domain.Flow {
	return e.flow
}

// Unreachable lists nodes that cannot be reached from the entry node.
func (e *Engine) Unreachable() []string {
	return e.report.Unreachable
}

// Timers lists the armed inactivity timers.
func (e *Engine) Timers() []runtime.TimerInfo {
	return e.interp.Timers()
}

// Mermaid renders the flow, highlighting the conversation's position when key is not nil.
func (e *Engine) Mermaid(ctx context.Context, key *domain.ConversationKey) (string, error) {
	if key == nil {
		return graph.GenerateMermaid(e.flow, nil), nil
	}
	conv, err := e.interp.Conversation(ctx, *key)
	if err != nil {
		return "", err
	}
	return graph.GenerateMermaid(e.flow, &graph.GraphOverlay{
		CurrentNode: conv.NodeID,
		State:       conv.State,
	}), nil
}

// Close cancels pending inactivity timers.
func (e *Engine) Close() error {
	return e.interp.Close()
}

var _ ports.Engine = (*Engine)(nil)
