package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/internal/compiler"
	"github.com/aretw0/menuflow/internal/middleware"
	"github.com/aretw0/menuflow/internal/nodes"
	"github.com/aretw0/menuflow/pkg/adapters/memory"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/session"
)

const greetingFlow = `
menu:
  flow_variables: {company: Acme}
  nodes:
    - id: start
      type: message
      text: "Welcome to {{ .company }}"
      o_connection: ask_name
    - id: ask_name
      type: input
      text: "What is your name?"
      variable: name
      o_connection: route
    - id: route
      type: switch
      conditions:
        - condition: "{{ eq .name \"admin\" }}"
          case: admin
      cases:
        - {id: admin, o_connection: denied}
        - {id: default, o_connection: bye}
    - id: bye
      type: message
      text: "Bye {{ .name }}"
      send_event: true
    - id: denied
      type: message
      text: "Nope"
`

type harness struct {
	engine    *Interpreter
	store     *memory.Store
	transport *memory.Transport
	sink      *memory.Sink
}

func newHarness(t *testing.T, doc string, env *nodes.Env, opts ...Option) *harness {
	t.Helper()
	flow, err := compiler.NewParser().Parse([]byte(doc))
	require.NoError(t, err)

	h := &harness{
		store:     memory.NewStore(),
		transport: memory.NewTransport(),
		sink:      &memory.Sink{},
	}
	if env == nil {
		env = &nodes.Env{}
	}
	if env.Transport == nil {
		env.Transport = h.transport
	}
	opts = append([]Option{WithEventSink(h.sink)}, opts...)
	h.engine, err = New(flow, env, session.NewManager(h.store), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

var room = domain.RoomKey("!room:example.com")

func msg(body string) *domain.Message {
	return &domain.Message{Sender: "@customer:example.com", Body: body}
}

func TestInterpreter_RunsUntilInput(t *testing.T) {
	h := newHarness(t, greetingFlow, nil)
	ctx := context.Background()

	res, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "ask_name"}, res.Visited)
	assert.Equal(t, domain.StatusSuspendedInput, res.Status)
	assert.Equal(t, "ask_name", res.Conversation.NodeID)
	assert.Equal(t, domain.StateInput, res.Conversation.State)

	stored, err := h.store.Load(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInput, stored.State)

	// A trigger without input keeps waiting.
	res, err = h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Visited)

	res, err = h.engine.Process(ctx, room, msg("Ana"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ask_name", "route", "bye"}, res.Visited)
	assert.Equal(t, domain.StatusEnded, res.Status)
	assert.Equal(t, "Ana", res.Conversation.Variables["name"])

	assert.Equal(t, []string{"Welcome to Acme", "What is your name?", "Bye Ana"}, h.transport.Bodies(room))

	// Ended conversations ignore triggers until reset.
	res, err = h.engine.Process(ctx, room, msg("again"))
	require.NoError(t, err)
	assert.Empty(t, res.Visited)
	assert.Equal(t, domain.StatusEnded, res.Status)
}

func TestInterpreter_Deterministic(t *testing.T) {
	run := func() ([]string, map[string]string) {
		h := newHarness(t, greetingFlow, nil)
		ctx := context.Background()
		_, err := h.engine.Process(ctx, room, nil)
		require.NoError(t, err)
		res, err := h.engine.Process(ctx, room, msg("admin"))
		require.NoError(t, err)
		return res.Visited, res.Conversation.Variables
	}

	v1, vars1 := run()
	v2, vars2 := run()
	assert.Equal(t, v1, v2)
	assert.Equal(t, vars1, vars2)
	assert.Equal(t, []string{"ask_name", "route", "denied"}, v1)
}

func TestInterpreter_Events(t *testing.T) {
	h := newHarness(t, greetingFlow, &nodes.Env{BotID: "@menubot:example.com"})
	ctx := context.Background()

	_, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	_, err = h.engine.Process(ctx, room, msg("Ana"))
	require.NoError(t, err)

	events := h.sink.Events()
	require.Len(t, events, 5)

	var ids []string
	for _, e := range events {
		ids = append(ids, e.NodeID)
		assert.Equal(t, domain.EventNodeEntry, e.Type)
		assert.Equal(t, room.RoomID, e.ConversationID)
		assert.Equal(t, "@menubot:example.com", e.Sender)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, []string{"start", "ask_name", "ask_name", "route", "bye"}, ids)

	last := events[4]
	assert.True(t, last.External)
	assert.Equal(t, domain.KindMessage, last.NodeType)
	assert.Equal(t, "Ana", last.Variables["name"])
	assert.Equal(t, "Acme", last.Variables["company"])
	assert.Equal(t, "route", events[2].Edge)
	assert.False(t, events[0].External)
}

func TestInterpreter_SinkFailureIsIgnored(t *testing.T) {
	h := newHarness(t, greetingFlow, nil)
	h.sink.Err = errors.New("broker down")

	res, err := h.engine.Process(context.Background(), room, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspendedInput, res.Status)
}

func TestInterpreter_FlowDefaultEdge(t *testing.T) {
	h := newHarness(t, `
menu:
  default: fallback
  nodes:
    - id: a
      type: message
      text: a
    - id: fallback
      type: message
      text: fallback
      cases:
        - {id: nothing, o_connection: a}
        - {id: default, o_connection: ""}
`, nil)

	res, err := h.engine.Process(context.Background(), room, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "fallback"}, res.Visited)
	assert.Equal(t, domain.StatusEnded, res.Status)
}

func TestInterpreter_StepLimit(t *testing.T) {
	h := newHarness(t, `
menu:
  nodes:
    - id: ping
      type: message
      text: ping
      o_connection: pong
    - id: pong
      type: message
      text: pong
      o_connection: ping
`, nil, WithMaxSteps(5))

	res, err := h.engine.Process(context.Background(), room, nil)
	require.ErrorIs(t, err, domain.ErrStepLimit)
	require.NotNil(t, res)
	assert.Len(t, res.Visited, 5)

	stored, err := h.store.Load(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, "pong", stored.NodeID, "every executed step is committed")
}

func TestInterpreter_BlocksOnRenderError(t *testing.T) {
	h := newHarness(t, `
menu:
  nodes:
    - id: call
      type: http_request
      url: "{{ .api_base }}/orders"
      o_connection: done
    - id: done
      type: message
      text: done
`, nil)
	ctx := context.Background()

	res, err := h.engine.Process(ctx, room, nil)
	var berr *domain.BlockedError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "call", berr.NodeID)
	assert.Equal(t, domain.StatusBlocked, res.Status)

	stored, _ := h.store.Load(ctx, room)
	assert.Equal(t, domain.StateBlocked, stored.State)

	res, err = h.engine.Process(ctx, room, msg("hello?"))
	require.NoError(t, err)
	assert.Empty(t, res.Visited, "blocked conversations need a reset")

	require.NoError(t, h.engine.Reset(ctx, room, false))
	stored, _ = h.store.Load(ctx, room)
	assert.Equal(t, domain.StateStart, stored.State)
	assert.Empty(t, stored.NodeID)
}

type flakyStore struct {
	*memory.Store
	fail atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, conv *domain.Conversation) error {
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, conv)
}

func TestInterpreter_PersistenceFailureIsNotCommitted(t *testing.T) {
	flow, err := compiler.NewParser().Parse([]byte(greetingFlow))
	require.NoError(t, err)
	store := &flakyStore{Store: memory.NewStore()}
	transport := memory.NewTransport()
	engine, err := New(flow, &nodes.Env{Transport: transport}, session.NewManager(store))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Process(ctx, room, nil)
	require.NoError(t, err)

	store.fail.Store(true)
	_, err = engine.Process(ctx, room, msg("Ana"))
	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)

	stored, err := store.Load(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, "ask_name", stored.NodeID)
	assert.Equal(t, domain.StateInput, stored.State)
	assert.NotContains(t, stored.Variables, "name")

	store.fail.Store(false)
	res, err := engine.Process(ctx, room, msg("Ana"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, res.Status)
}

func TestInterpreter_TransportFailureAborts(t *testing.T) {
	h := newHarness(t, greetingFlow, nil)
	h.transport.SetErr(errors.New("homeserver down"))

	_, err := h.engine.Process(context.Background(), room, nil)
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)

	stored, err := h.store.Load(context.Background(), room)
	require.NoError(t, err)
	assert.Empty(t, stored.NodeID, "nothing committed past the failed send")
}

func TestInterpreter_EchoSuppression(t *testing.T) {
	users := memory.NewDirectory()
	users.PutUser(domain.User{MXID: "@other-bot:example.com"})
	h := newHarness(t, greetingFlow, &nodes.Env{BotID: "@menubot:example.com"}, WithUserStore(users))
	ctx := context.Background()

	for _, sender := range []string{"@menubot:example.com", "@other-bot:example.com"} {
		res, err := h.engine.Process(ctx, room, &domain.Message{Sender: sender, Body: "hi"})
		require.NoError(t, err)
		assert.True(t, res.Ignored, sender)
	}
	route := domain.RouteKey("@client:example.com", "!room:example.com")
	res, err := h.engine.Process(ctx, route, &domain.Message{Sender: "@client:example.com", Body: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	assert.Empty(t, h.transport.Sent())
}

func TestInterpreter_ResetClearsVariables(t *testing.T) {
	h := newHarness(t, greetingFlow, nil)
	ctx := context.Background()

	_, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	_, err = h.engine.Process(ctx, room, msg("Ana"))
	require.NoError(t, err)

	require.NoError(t, h.engine.Reset(ctx, room, false))
	conv, err := h.engine.Conversation(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, "Ana", conv.Variables["name"])

	require.NoError(t, h.engine.Reset(ctx, room, true))
	conv, _ = h.engine.Conversation(ctx, room)
	assert.Empty(t, conv.Variables)

	err = h.engine.Reset(ctx, domain.RoomKey("!unknown:x"), false)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestInterpreter_StateHook(t *testing.T) {
	var mu sync.Mutex
	var diffs []*domain.StateDiff
	h := newHarness(t, greetingFlow, nil, WithStateHook(func(key domain.ConversationKey, diff *domain.StateDiff) {
		mu.Lock()
		diffs = append(diffs, diff)
		mu.Unlock()
	}))

	_, err := h.engine.Process(context.Background(), room, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, diffs, 2)
	require.NotNil(t, diffs[1].State)
	assert.Equal(t, domain.StateInput, *diffs[1].State)
}

func TestInterpreter_AuthRetryWithinTrigger(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			_, _ = w.Write([]byte(`{"token":"t"}`))
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	reg, err := middleware.Build([]map[string]any{{
		"id": "api", "type": "jwt", "url": srv.URL, "attempts": 3,
		"auth": map[string]any{"token_path": "/auth", "variables": map[string]any{"token": "token"}},
	}}, srv.Client(), 3, nil)
	require.NoError(t, err)
	retries := middleware.NewRetryTracker()

	h := newHarness(t, `
menu:
  nodes:
    - id: call
      type: http_request
      url: `+srv.URL+`/orders
      middleware: api
      cases:
        - {id: 200, o_connection: ok}
        - {id: default, o_connection: sorry}
    - id: ok
      type: message
      text: ok
    - id: sorry
      type: message
      text: "Service unavailable"
`, &nodes.Env{HTTP: srv.Client(), Middlewares: reg, Retries: retries})

	res, err := h.engine.Process(context.Background(), room, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"call", "call", "call", "sorry"}, res.Visited)
	assert.EqualValues(t, 3, calls.Load())
	_, tracked := retries.State(room.String())
	assert.False(t, tracked)
}

func TestInterpreter_ConversationsAreIsolated(t *testing.T) {
	h := newHarness(t, greetingFlow, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := domain.RoomKey(fmt.Sprintf("!room-%d:example.com", n))
			_, err := h.engine.Process(ctx, key, nil)
			assert.NoError(t, err)
			_, err = h.engine.Process(ctx, key, msg(fmt.Sprintf("user-%d", n)))
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	keys, err := h.store.List(ctx, domain.KindRoom)
	require.NoError(t, err)
	require.Len(t, keys, 20)
	for n := 0; n < 20; n++ {
		conv, err := h.store.Load(ctx, domain.RoomKey(fmt.Sprintf("!room-%d:example.com", n)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("user-%d", n), conv.Variables["name"])
		assert.Equal(t, domain.StateEnd, conv.State)
	}
}

func TestInterpreter_SameConversationIsSerialized(t *testing.T) {
	h := newHarness(t, `
menu:
  nodes:
    - id: ask
      type: input
      variable: last
      o_connection: ask
`, nil)
	ctx := context.Background()
	_, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 30; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := h.engine.Process(ctx, room, msg(fmt.Sprint(n)))
			assert.NoError(t, err)
			// Every message is consumed by exactly one resume of the input node.
			assert.Equal(t, []string{"ask", "ask"}, res.Visited)
		}(n)
	}
	wg.Wait()

	conv, err := h.store.Load(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInput, conv.State)
	assert.Len(t, h.sink.Events(), 1+30*2)
}

func TestInterpreter_InactivityTimeout(t *testing.T) {
	h := newHarness(t, `
menu:
  nodes:
    - id: ask
      type: input
      text: "Still there?"
      variable: answer
      inactivity_options:
        chat_timeout: 100ms
        warning_message: "Hello {{ .who }}?"
        time_between_attempts: 20ms
        attempts: 1
      cases:
        - {id: timeout, o_connection: gone}
      o_connection: thanks
    - id: gone
      type: message
      text: "Closing the chat"
    - id: thanks
      type: message
      text: thanks
`, nil)
	ctx := context.Background()

	res, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspendedTimer, res.Status)
	assert.Len(t, h.engine.Timers(), 1)

	require.Eventually(t, func() bool {
		conv, err := h.store.Load(ctx, room)
		return err == nil && conv.State == domain.StateEnd
	}, 2*time.Second, 10*time.Millisecond)

	bodies := h.transport.Bodies(room)
	assert.Equal(t, []string{"Still there?", "Hello {{ .who }}?", "Closing the chat"}, bodies)
	assert.Empty(t, h.engine.Timers())
}

func TestInterpreter_InputCancelsTimer(t *testing.T) {
	h := newHarness(t, `
menu:
  nodes:
    - id: ask
      type: input
      variable: answer
      inactivity_options: {chat_timeout: 50ms}
      cases:
        - {id: timeout, o_connection: gone}
      o_connection: thanks
    - id: gone
      type: message
      text: gone
    - id: thanks
      type: message
      text: thanks
`, nil)
	ctx := context.Background()

	_, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	res, err := h.engine.Process(ctx, room, msg("here"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ask", "thanks"}, res.Visited)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, []string{"thanks"}, h.transport.Bodies(room))
}

func TestInterpreter_RepeatedRequestKeepsVariables(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":12345678901234567891,"total":10.5,"tags":["a","b"]}`))
	}))
	defer srv.Close()

	h := newHarness(t, `
menu:
  nodes:
    - id: call
      type: http_request
      url: `+srv.URL+`/orders
      variables: {order: id, total: total, tags: tags}
      cases:
        - {id: 200, o_connection: ask}
    - id: ask
      type: input
      variable: answer
      o_connection: call
`, &nodes.Env{HTTP: srv.Client()})
	ctx := context.Background()

	res, err := h.engine.Process(ctx, room, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"call", "ask"}, res.Visited)
	first := res.Conversation.Variables
	assert.Equal(t, "12345678901234567891", first["order"])
	assert.Equal(t, "10.5", first["total"])

	res, err = h.engine.Process(ctx, room, msg("again"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ask", "call", "ask"}, res.Visited)
	assert.EqualValues(t, 2, calls.Load())

	second := make(map[string]string, len(res.Conversation.Variables))
	for k, v := range res.Conversation.Variables {
		second[k] = v
	}
	assert.Equal(t, "again", second["answer"])
	delete(second, "answer")
	assert.Equal(t, first, second)
}

func TestInterpreter_FailedResumeKeepsTimer(t *testing.T) {
	flow, err := compiler.NewParser().Parse([]byte(`
menu:
  nodes:
    - id: ask
      type: input
      variable: answer
      inactivity_options: {chat_timeout: 150ms}
      cases:
        - {id: timeout, o_connection: gone}
      o_connection: thanks
    - id: gone
      type: message
      text: gone
    - id: thanks
      type: message
      text: thanks
`))
	require.NoError(t, err)
	store := &flakyStore{Store: memory.NewStore()}
	transport := memory.NewTransport()
	engine, err := New(flow, &nodes.Env{Transport: transport}, session.NewManager(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	ctx := context.Background()

	_, err = engine.Process(ctx, room, nil)
	require.NoError(t, err)
	require.Len(t, engine.Timers(), 1)

	store.fail.Store(true)
	_, err = engine.Process(ctx, room, msg("here"))
	require.Error(t, err)
	assert.Len(t, engine.Timers(), 1)
	store.fail.Store(false)

	require.Eventually(t, func() bool {
		conv, err := store.Load(ctx, room)
		return err == nil && conv.State == domain.StateEnd
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"gone"}, transport.Bodies(room))
	assert.Empty(t, engine.Timers())
}
