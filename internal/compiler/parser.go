// Package compiler turns operator-authored YAML documents into domain definitions.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// reserved keys are decoded into the node header; every other key is a kind-specific field.
var reserved = map[string]bool{
	"id":           true,
	"type":         true,
	"o_connection": true,
	"cases":        true,
	"send_event":   true,
}

type document struct {
	Menu struct {
		FlowVariables map[string]any   `yaml:"flow_variables"`
		Entry         string           `yaml:"entry"`
		Default       string           `yaml:"default"`
		Nodes         []map[string]any `yaml:"nodes"`
	} `yaml:"menu"`
}

type nodeHeader struct {
	ID          string  `mapstructure:"id"`
	Type        string  `mapstructure:"type"`
	OConnection *string `mapstructure:"o_connection"`
	SendEvent   bool    `mapstructure:"send_event"`
	Cases       any     `mapstructure:"cases"`
}

type caseEntry struct {
	ID          string  `mapstructure:"id"`
	OConnection *string `mapstructure:"o_connection"`
}

// Parser is responsible for converting raw bytes into a Flow.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a flow document. The flow is named after the file.
func (p *Parser) ParseFile(path string) (*domain.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow: %w", err)
	}
	flow, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	flow.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return flow, nil
}

// Parse decodes a flow document. Structural problems are reported together as a
// *domain.GraphConfigError; the flow is never partially returned.
func (p *Parser) Parse(data []byte) (*domain.Flow, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse flow: %w", err)
	}

	flow := &domain.Flow{
		Entry:     doc.Menu.Entry,
		Default:   doc.Menu.Default,
		Variables: make(map[string]string, len(doc.Menu.FlowVariables)),
		Nodes:     make(map[string]*domain.NodeDefinition, len(doc.Menu.Nodes)),
	}
	for k, v := range doc.Menu.FlowVariables {
		flow.Variables[k] = template.Stringify(v)
	}

	var problems []string
	for i, raw := range doc.Menu.Nodes {
		node, err := parseNode(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("node #%d: %v", i, err))
			continue
		}
		if _, dup := flow.Nodes[node.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id '%s'", node.ID))
			continue
		}
		flow.Nodes[node.ID] = node
		flow.Order = append(flow.Order, node.ID)
	}

	if len(flow.Order) == 0 && len(problems) == 0 {
		problems = append(problems, "flow has no nodes")
	}
	if len(problems) > 0 {
		return nil, &domain.GraphConfigError{Problems: problems}
	}

	if flow.Entry == "" {
		flow.Entry = flow.Order[0]
	}
	return flow, nil
}

func parseNode(raw map[string]any) (*domain.NodeDefinition, error) {
	var header nodeHeader
	if err := weakDecode(raw, &header); err != nil {
		return nil, err
	}
	if header.ID == "" {
		return nil, fmt.Errorf("missing id")
	}

	node := &domain.NodeDefinition{
		ID:        header.ID,
		Kind:      domain.NodeKind(header.Type),
		SendEvent: header.SendEvent,
		Cases:     make(map[string]string),
		Fields:    make(map[string]any),
	}
	if header.OConnection != nil {
		node.Default = *header.OConnection
	}

	if err := parseCases(node, header.Cases); err != nil {
		return nil, fmt.Errorf("node '%s': %w", node.ID, err)
	}

	for k, v := range raw {
		if !reserved[k] {
			node.Fields[k] = v
		}
	}
	return node, nil
}

// parseCases accepts the list form ([{id, o_connection}]) and the mapping form ({id: target}).
func parseCases(node *domain.NodeDefinition, raw any) error {
	switch cases := raw.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range cases {
			var entry caseEntry
			if err := weakDecode(item, &entry); err != nil {
				return fmt.Errorf("invalid case: %w", err)
			}
			target := ""
			if entry.OConnection != nil {
				target = *entry.OConnection
			}
			addCase(node, entry.ID, target)
		}
	case map[string]any:
		for id, target := range cases {
			addCase(node, id, template.Stringify(target))
		}
		// Maps have no declaration order; keep lookups deterministic.
		sort.Strings(node.CaseOrder)
	case map[any]any:
		// Non-string keys such as status codes: {200: n2, 500: n3}.
		for id, target := range cases {
			addCase(node, template.Stringify(id), template.Stringify(target))
		}
		sort.Strings(node.CaseOrder)
	default:
		return fmt.Errorf("cases must be a list or a mapping, got %T", raw)
	}
	return nil
}

func addCase(node *domain.NodeDefinition, id, target string) {
	if _, exists := node.Cases[id]; !exists {
		node.CaseOrder = append(node.CaseOrder, id)
	}
	node.Cases[id] = target
}

// weakDecode decodes YAML values leniently, so that ids written as 200 or True
// become "200" and "true".
func weakDecode(input, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
		DecodeHook:       boolToWordHook,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func boolToWordHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.Bool && to.Kind() == reflect.String {
		return strconv.FormatBool(data.(bool)), nil
	}
	return data, nil
}
