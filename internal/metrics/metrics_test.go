package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ReconcilePass()
	m.ReconcileMatched("normalized_text")
	m.ReconcileMatched("normalized_text")
	m.SpeculativePending(3)
	m.SpeculativePending(-1)
	m.ConnectionState("active", "grace_period")
	m.PlaybackConflict()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcilePasses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileMatched.WithLabelValues("normalized_text")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.speculativePending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("grace_period")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.playbackConflicts))
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ReconcilePass()
		m.ReconcileMatched("exact_text")
		m.SpeculativePending(1)
		m.SpeculativeDiscarded(1)
		m.ConnectionState("active", "disconnected")
		m.MutationFailure("toggle_favorite")
		m.Refetch("mark_read")
		m.PlaybackConflict()
		m.PlaybackStart()
		m.PushReceived("message")
	})
}
