package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/pkg/adapters/memory"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/observability"
)

func TestMetrics_Publish(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, domain.NodeEvent{NodeType: domain.KindMessage, Edge: "n2"}))
	require.NoError(t, m.Publish(ctx, domain.NodeEvent{NodeType: domain.KindHTTPRequest, Outcome: "200", Edge: "n3"}))
	require.NoError(t, m.Publish(ctx, domain.NodeEvent{NodeType: domain.KindHTTPRequest, Outcome: "401"}))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	series := 0
	for _, mf := range families {
		if mf.GetName() == "menuflow_node_executions_total" {
			series = len(mf.GetMetric())
		}
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range metric.GetLabel() {
				key += "/" + l.GetValue()
			}
			values[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2, series, "one series per node type")
	assert.Equal(t, 2.0, values["menuflow_node_executions_total/http_request"])
	assert.Equal(t, 1.0, values["menuflow_http_request_outcomes_total/401"])
	assert.Equal(t, 1.0, values["menuflow_terminal_transitions_total"])
}

func TestFanout_ExternalOnlyForSendEvent(t *testing.T) {
	internal := &memory.Sink{}
	external := &memory.Sink{}
	fan := observability.NewFanout().AddInternal(internal).AddExternal(external)
	ctx := context.Background()

	require.NoError(t, fan.Publish(ctx, domain.NodeEvent{NodeID: "a"}))
	require.NoError(t, fan.Publish(ctx, domain.NodeEvent{NodeID: "b", External: true}))

	assert.Len(t, internal.Events(), 2)
	require.Len(t, external.Events(), 1)
	assert.Equal(t, "b", external.Events()[0].NodeID)
}

func TestFanout_JoinsErrors(t *testing.T) {
	failing := &memory.Sink{}
	failing.Err = errors.New("broker down")
	ok := &memory.Sink{}
	fan := observability.NewFanout().AddExternal(failing).AddInternal(ok)

	err := fan.Publish(context.Background(), domain.NodeEvent{External: true})
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.Events(), 1)
}

func TestMaskingSink(t *testing.T) {
	next := &memory.Sink{}
	sink, err := observability.NewMaskingSink(next, []string{"password", "^ssn"})
	require.NoError(t, err)

	vars := map[string]string{"username": "jdoe", "user_password": "secret123", "ssn_number": "999", "my_ssn": "1"}
	require.NoError(t, sink.Publish(context.Background(), domain.NodeEvent{Variables: vars}))

	got := next.Events()[0].Variables
	assert.Equal(t, "jdoe", got["username"])
	assert.Equal(t, observability.Mask, got["user_password"])
	assert.Equal(t, observability.Mask, got["ssn_number"])
	assert.Equal(t, "1", got["my_ssn"])
	assert.Equal(t, "secret123", vars["user_password"], "caller's snapshot is untouched")

	_, err = observability.NewMaskingSink(next, []string{"("})
	assert.Error(t, err)
}
