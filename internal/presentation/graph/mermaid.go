package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/menuflow/pkg/domain"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
	// State of the conversation; BLOCKED and END style the current node differently.
	State domain.LifecycleState
}

const endID = "__end__"

// GenerateMermaid produces a Mermaid flowchart of a flow.
// Shapes follow the node kind:
// - Entry: ((Circle))
// - HTTP request: [[Subroutine]]
// - Input / interactive input: [/Parallelogram/]
// - Switch / check time: {Rhombus}
// - Default: [Rectangle]
// Case edges carry their key; the node's o_connection is a plain arrow and
// terminal edges point to a shared END node.
func GenerateMermaid(flow *domain.Flow, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	usesEnd := false
	for _, node := range flow.List() {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch {
		case node.ID == flow.Entry:
			opener, closer = "((", "))"
		case node.Kind == domain.KindHTTPRequest:
			opener, closer = "[[", "]]"
		case node.Kind == domain.KindInput || node.Kind == domain.KindInteractiveInput:
			opener, closer = "[/", "/]"
		case node.Kind == domain.KindSwitch || node.Kind == domain.KindCheckTime:
			opener, closer = "{", "}"
		}

		label := node.ID
		if timeout := chatTimeout(node); timeout != "" {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", node.ID, timeout)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		for _, key := range node.CaseOrder {
			to := node.Cases[key]
			if to == "" {
				to, usesEnd = endID, true
			}
			safeKey := strings.ReplaceAll(key, "\"", "'")
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, safeKey, sanitizeMermaidID(to))
		}
		if node.Default != "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(node.Default))
		} else if len(node.Cases) == 0 && flow.Default == "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, endID)
			usesEnd = true
		}
	}

	if flow.Default != "" {
		sb.WriteString("    %% Flow default edge\n")
		fmt.Fprintf(&sb, "    __default__([\"any unmatched outcome\"]) -.-> %s\n", sanitizeMermaidID(flow.Default))
	}
	if usesEnd {
		fmt.Fprintf(&sb, "    %s(((\"END\")))\n", endID)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef blocked fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		current := overlay.CurrentNode
		if current == "" && overlay.State == domain.StateEnd && usesEnd {
			current = endID
		}
		if current != "" {
			class := "current"
			if overlay.State == domain.StateBlocked {
				class = "blocked"
			}
			fmt.Fprintf(&sb, "    class %s %s;\n", sanitizeMermaidID(current), class)
		}
	}

	return sb.String()
}

func chatTimeout(node *domain.NodeDefinition) string {
	opts, ok := node.Fields["inactivity_options"].(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := opts["chat_timeout"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func sanitizeMermaidID(id string) string {
	if id == endID {
		return id
	}
	s := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
	return s
}
