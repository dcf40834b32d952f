package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveExport(t *testing.T) {
	m := New()

	m.ObserveExport("spans", nil)
	m.ObserveExport("spans", nil)
	m.ObserveExport("spans", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Exports.WithLabelValues("spans", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exports.WithLabelValues("spans", "error")))
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.EventsEnqueued.WithLabelValues("config").Inc()
	m.ThreadsRegistered.Set(3)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["telemetry_agent_events_enqueued_total"])
	assert.True(t, names["telemetry_agent_threads_registered"])
	assert.True(t, names["go_goroutines"])

	// A second agent gets its own registry.
	assert.NotPanics(t, func() { New() })
}
