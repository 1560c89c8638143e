package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

type condition struct {
	Condition string `mapstructure:"condition"`
	Case      string `mapstructure:"case"`
}

type switchConfig struct {
	Validation string      `mapstructure:"validation"`
	Conditions []condition `mapstructure:"conditions"`
}

// Switch evaluates its conditions in declaration order and resolves to the case of the
// first one that holds. Without a match, the rendered validation is the outcome key.
type Switch struct {
	header
	cfg switchConfig
}

func newSwitch(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg switchConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	for i, c := range cfg.Conditions {
		if c.Condition == "" || c.Case == "" {
			return nil, fmt.Errorf("conditions[%d] needs condition and case", i)
		}
	}
	return &Switch{header: header{def: def, env: env}, cfg: cfg}, nil
}

func (s *Switch) Execute(ctx context.Context, req *Request) (Outcome, error) {
	return advance(s.evaluate(req, req.Vars), nil), nil
}

func (s *Switch) evaluate(req *Request, vars *template.Context) string {
	logger := s.log(req)
	for i, c := range s.cfg.Conditions {
		out, err := vars.RenderString(fmt.Sprintf("conditions[%d]", i), c.Condition)
		if err != nil {
			logger.Debug("condition not evaluated", "case", c.Case, "err", err)
			continue
		}
		if template.Truthy(out) {
			return c.Case
		}
	}

	if s.cfg.Validation == "" {
		return domain.OutcomeDefault
	}
	out, err := vars.RenderString("validation", s.cfg.Validation)
	if err != nil {
		logger.Warn("validation not rendered", "err", err)
		return domain.OutcomeDefault
	}
	if out = strings.TrimSpace(out); out == "" {
		return domain.OutcomeDefault
	}
	return out
}
