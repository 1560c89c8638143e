package observability

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

// Mask is the replacement value of masked variables.
const Mask = "***"

type maskingSink struct {
	next     ports.EventSink
	patterns []*regexp.Regexp
}

// NewMaskingSink masks the event variables whose name matches any pattern
// before handing the event to next. The engine's own variables are not touched.
func NewMaskingSink(next ports.EventSink, patterns []string) (ports.EventSink, error) {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid mask pattern %q: %w", p, err)
		}
		compiled[i] = re
	}
	return &maskingSink{next: next, patterns: compiled}, nil
}

func (m *maskingSink) Publish(ctx context.Context, evt domain.NodeEvent) error {
	if len(m.patterns) == 0 || len(evt.Variables) == 0 {
		return m.next.Publish(ctx, evt)
	}

	masked := make(map[string]string, len(evt.Variables))
	for k, v := range evt.Variables {
		masked[k] = v
		for _, p := range m.patterns {
			if p.MatchString(k) {
				masked[k] = Mask
				break
			}
		}
	}
	evt.Variables = masked
	return m.next.Publish(ctx, evt)
}
