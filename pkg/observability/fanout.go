package observability

import (
	"context"
	"errors"

	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

// Fanout delivers events to internal sinks always and to external sinks
// only when the event is marked External.
type Fanout struct {
	internal []ports.EventSink
	external []ports.EventSink
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// AddInternal registers a sink that sees every event (metrics, logs).
func (f *Fanout) AddInternal(sink ports.EventSink) *Fanout {
	if sink != nil {
		f.internal = append(f.internal, sink)
	}
	return f
}

// AddExternal registers a sink that only sees send_event events.
func (f *Fanout) AddExternal(sink ports.EventSink) *Fanout {
	if sink != nil {
		f.external = append(f.external, sink)
	}
	return f
}

// Publish implements ports.EventSink. All sinks are attempted; errors are joined.
func (f *Fanout) Publish(ctx context.Context, evt domain.NodeEvent) error {
	var errs []error
	for _, sink := range f.internal {
		if err := sink.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	if evt.External {
		for _, sink := range f.external {
			if err := sink.Publish(ctx, evt); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
