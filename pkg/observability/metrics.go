package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Namespace prefixes every metric name.
const Namespace = "menuflow"

// Metrics is an EventSink recording node executions.
type Metrics struct {
	nodeExecutions *prometheus.CounterVec
	httpResponses  *prometheus.CounterVec
	terminal       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		nodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node executions",
			},
			[]string{"node_type"},
		),
		httpResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_request_outcomes_total",
				Help:      "Outcomes of http_request nodes, by status code",
			},
			[]string{"status"},
		),
		terminal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "terminal_transitions_total",
				Help:      "Node executions that ended their conversation",
			},
		),
	}
	reg.MustRegister(m.nodeExecutions, m.httpResponses, m.terminal)
	return m
}

// Publish implements ports.EventSink.
func (m *Metrics) Publish(_ context.Context, evt domain.NodeEvent) error {
	m.nodeExecutions.WithLabelValues(string(evt.NodeType)).Inc()
	if evt.NodeType == domain.KindHTTPRequest && evt.Outcome != "" {
		m.httpResponses.WithLabelValues(evt.Outcome).Inc()
	}
	if evt.Edge == "" {
		m.terminal.Inc()
	}
	return nil
}
