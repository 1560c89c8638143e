package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/internal/compiler"
	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/adapters/memory"
	"github.com/aretw0/menuflow/pkg/domain"
)

var testKey = domain.RoomKey("!room:example.com")

type fixture struct {
	flow      *domain.Flow
	nodes     map[string]Node
	transport *memory.Transport
	env       *Env
}

func mustParse(t *testing.T, doc string) *domain.Flow {
	t.Helper()
	flow, err := compiler.NewParser().Parse([]byte(doc))
	require.NoError(t, err)
	return flow
}

func compileFlow(t *testing.T, doc string, env *Env) *fixture {
	t.Helper()
	flow := mustParse(t, doc)

	if env == nil {
		env = &Env{}
	}
	transport := memory.NewTransport()
	if env.Transport == nil {
		env.Transport = transport
	}
	nodes, err := Compile(flow, env)
	require.NoError(t, err)
	return &fixture{flow: flow, nodes: nodes, transport: transport, env: env}
}

func (f *fixture) run(t *testing.T, id string, vars map[string]string, input *domain.Message) Outcome {
	t.Helper()
	n, ok := f.nodes[id]
	require.True(t, ok, "node %s not compiled", id)

	conv := domain.NewConversation(testKey)
	conv.NodeID = id
	conv.SetVariables(vars)
	req := &Request{
		Conversation: conv,
		Vars:         template.New(f.flow.Variables, conv.Variables),
		Input:        input,
	}
	out, err := n.Execute(context.Background(), req)
	require.NoError(t, err)
	return out
}

func fixedClock(s string) func() time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}
