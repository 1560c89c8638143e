package domain

import "strings"

// NodeKind selects the behavior of a node.
type NodeKind string

const (
	KindMessage          NodeKind = "message"
	KindMedia            NodeKind = "media"
	KindEmail            NodeKind = "email"
	KindLocation         NodeKind = "location"
	KindCheckTime        NodeKind = "check_time"
	KindSwitch           NodeKind = "switch"
	KindInput            NodeKind = "input"
	KindInteractiveInput NodeKind = "interactive_input"
	KindHTTPRequest      NodeKind = "http_request"
)

// Valid reports whether the kind is known to the engine.
func (k NodeKind) Valid() bool {
	switch k {
	case KindMessage, KindMedia, KindEmail, KindLocation, KindCheckTime,
		KindSwitch, KindInput, KindInteractiveInput, KindHTTPRequest:
		return true
	}
	return false
}

// NodeDefinition is one operator-authored node of a flow.
type NodeDefinition struct {
	ID   string   `json:"id" yaml:"id"`
	Kind NodeKind `json:"type" yaml:"type"`

	// Cases maps outcome keys to target node IDs. An empty target is terminal.
	Cases map[string]string `json:"cases,omitempty" yaml:"-"`

	// CaseOrder keeps the declaration order of Cases.
	CaseOrder []string `json:"-" yaml:"-"`

	// Default is the node's own default edge (o_connection). Empty means none.
	Default string `json:"o_connection,omitempty" yaml:"o_connection,omitempty"`

	// SendEvent forwards the node's events to external sinks.
	SendEvent bool `json:"send_event,omitempty" yaml:"send_event,omitempty"`

	// Fields holds the kind-specific attributes, which may contain templates.
	Fields map[string]any `json:"fields,omitempty" yaml:"-"`
}

// Case looks up an outcome key, exact match first, then case-insensitive.
// The boolean reports whether the key was declared (its target may be terminal).
func (n *NodeDefinition) Case(key string) (string, bool) {
	if target, ok := n.Cases[key]; ok {
		return target, true
	}
	for _, k := range n.CaseOrder {
		if strings.EqualFold(k, key) {
			return n.Cases[k], true
		}
	}
	return "", false
}

// Targets returns every non-terminal node ID referenced by the node.
func (n *NodeDefinition) Targets() []string {
	var out []string
	if n.Default != "" {
		out = append(out, n.Default)
	}
	for _, k := range n.CaseOrder {
		if t := n.Cases[k]; t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Flow is the immutable, loaded definition of a conversational flow.
// It is replaced wholesale on reload and never mutated after validation.
type Flow struct {
	Name string

	// Entry is the node where new conversations start.
	Entry string

	// Default is the flow-global default edge.
	Default string

	// Variables are the flow-level default variables (read-only).
	Variables map[string]string

	Nodes map[string]*NodeDefinition

	// Order keeps the declaration order of Nodes.
	Order []string
}

// Node returns a node definition by ID.
func (f *Flow) Node(id string) (*NodeDefinition, bool) {
	n, ok := f.Nodes[id]
	return n, ok
}

// List returns the nodes in declaration order.
func (f *Flow) List() []*NodeDefinition {
	out := make([]*NodeDefinition, 0, len(f.Order))
	for _, id := range f.Order {
		out = append(out, f.Nodes[id])
	}
	return out
}
