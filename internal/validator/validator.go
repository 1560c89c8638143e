// Package validator checks the structural integrity of a flow before it is used.
package validator

import (
	"fmt"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Report holds non-fatal findings.
type Report struct {
	// Unreachable lists nodes that cannot be reached from the entry node.
	Unreachable []string
}

// ValidateFlow checks graph closure: the entry node, the flow-global default and every
// case and default target must name an existing node. Problems reject the whole flow.
func ValidateFlow(flow *domain.Flow) (*Report, error) {
	var problems []string

	if _, ok := flow.Node(flow.Entry); !ok {
		problems = append(problems, fmt.Sprintf("entry node '%s' not found", flow.Entry))
	}
	if flow.Default != "" {
		if _, ok := flow.Node(flow.Default); !ok {
			problems = append(problems, fmt.Sprintf("flow default '%s' not found", flow.Default))
		}
	}

	for _, node := range flow.List() {
		if !node.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("node '%s' has unknown type '%s'", node.ID, node.Kind))
		}
		if node.Default != "" {
			if _, ok := flow.Node(node.Default); !ok {
				problems = append(problems, fmt.Sprintf("node '%s' o_connection references missing node '%s'", node.ID, node.Default))
			}
		}
		for _, key := range node.CaseOrder {
			target := node.Cases[key]
			if target == "" {
				continue // Terminal
			}
			if _, ok := flow.Node(target); !ok {
				problems = append(problems, fmt.Sprintf("node '%s' case '%s' references missing node '%s'", node.ID, key, target))
			}
		}
	}

	if len(problems) > 0 {
		return nil, &domain.GraphConfigError{Problems: problems}
	}

	return &Report{Unreachable: unreachable(flow)}, nil
}

// unreachable crawls the graph from the entry node and returns nodes never visited.
func unreachable(flow *domain.Flow) []string {
	visited := make(map[string]bool)
	queue := []string{flow.Entry}
	if flow.Default != "" {
		queue = append(queue, flow.Default)
	}

	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]

		if visited[currentID] {
			continue
		}
		visited[currentID] = true

		node, ok := flow.Node(currentID)
		if !ok {
			continue
		}
		for _, target := range node.Targets() {
			if !visited[target] {
				queue = append(queue, target)
			}
		}
	}

	var out []string
	for _, id := range flow.Order {
		if !visited[id] {
			out = append(out, id)
		}
	}
	return out
}
