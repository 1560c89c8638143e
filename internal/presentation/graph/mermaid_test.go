package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/menuflow/internal/presentation/graph"
	"github.com/aretw0/menuflow/pkg/domain"
)

func testFlow() *domain.Flow {
	nodes := []*domain.NodeDefinition{
		{ID: "start", Kind: domain.KindMessage, Default: "ask-name"},
		{ID: "ask-name", Kind: domain.KindInput, Default: "api",
			Fields: map[string]any{"inactivity_options": map[string]any{"chat_timeout": 30}}},
		{ID: "api", Kind: domain.KindHTTPRequest,
			Cases: map[string]string{"200": "ok", `say "hi"`: "ok", "500": ""}, CaseOrder: []string{"200", `say "hi"`, "500"}},
		{ID: "ok", Kind: domain.KindSwitch},
	}
	flow := &domain.Flow{Entry: "start", Nodes: map[string]*domain.NodeDefinition{}}
	for _, n := range nodes {
		flow.Nodes[n.ID] = n
		flow.Order = append(flow.Order, n.ID)
	}
	return flow
}

func TestGenerateMermaid(t *testing.T) {
	got := graph.GenerateMermaid(testFlow(), nil)

	for _, want := range []string{
		"graph TD\n",
		`start(("start"))`,
		`ask_name[/"ask-name <br/> ⏱️ 30"/]`,
		`api[["api"]]`,
		`ok{"ok"}`,
		"start --> ask_name",
		`api -- "200" --> ok`,
		`api -- "say 'hi'" --> ok`,
		`api -- "500" --> __end__`,
		"ok --> __end__",
		`__end__((("END")))`,
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "Overlay")
}

func TestGenerateMermaid_FlowDefault(t *testing.T) {
	flow := testFlow()
	flow.Default = "ok"
	got := graph.GenerateMermaid(flow, nil)

	assert.Contains(t, got, "-.-> ok")
	assert.NotContains(t, got, "ok --> __end__", "nodes without edges fall back to the flow default")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	overlay := &graph.GraphOverlay{
		VisitedNodes: []string{"start", "ask-name", "start"},
		CurrentNode:  "ask-name",
		State:        domain.StateInput,
	}
	got := graph.GenerateMermaid(testFlow(), overlay)

	assert.Equal(t, 1, strings.Count(got, "class start visited;"))
	assert.Contains(t, got, "class ask_name current;")

	blocked := graph.GenerateMermaid(testFlow(), &graph.GraphOverlay{CurrentNode: "api", State: domain.StateBlocked})
	assert.Contains(t, blocked, "class api blocked;")

	ended := graph.GenerateMermaid(testFlow(), &graph.GraphOverlay{State: domain.StateEnd})
	assert.Contains(t, ended, "class __end__ current;")
}
