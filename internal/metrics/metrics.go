package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "convsync"

// Metrics groups the collectors exported by the engine. A nil *Metrics is
// valid and records nothing, so components can be built without one.
type Metrics struct {
	reconcilePasses     prometheus.Counter
	reconcileMatched    *prometheus.CounterVec
	speculativePending  prometheus.Gauge
	speculativeDropped  prometheus.Counter
	connectionState     *prometheus.GaugeVec
	connectionChanges   *prometheus.CounterVec
	mutationFailures    *prometheus.CounterVec
	refetches           *prometheus.CounterVec
	playbackConflicts   prometheus.Counter
	playbackStarts      prometheus.Counter
	channelPushReceived *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "passes_total",
			Help: "Reconciliation passes run.",
		}),
		reconcileMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "matched_total",
			Help: "Speculative entries removed by a confirmed entry, by match rule.",
		}, []string{"rule"}),
		speculativePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "pending",
			Help: "Speculative entries waiting for a confirmed match.",
		}),
		speculativeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "discarded_total",
			Help: "Speculative entries discarded without a match.",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connection", Name: "state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		connectionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "transitions_total",
			Help: "Connection state transitions, by target state.",
		}, []string{"state"}),
		mutationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "mutation_failures_total",
			Help: "Optimistic conversation mutations rolled back, by operation.",
		}, []string{"op"}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "refetches_total",
			Help: "Base list refetches, by reason.",
		}, []string{"reason"}),
		playbackConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "playback", Name: "conflicts_total",
			Help: "Failures to stop a previous resource before starting the next.",
		}),
		playbackStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "playback", Name: "starts_total",
			Help: "Playback starts.",
		}),
		channelPushReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "push_received_total",
			Help: "Server pushes received on the realtime channel, by kind.",
		}, []string{"kind"}),
	}

	collectors := []prometheus.Collector{
		m.reconcilePasses, m.reconcileMatched, m.speculativePending, m.speculativeDropped,
		m.connectionState, m.connectionChanges, m.mutationFailures, m.refetches,
		m.playbackConflicts, m.playbackStarts, m.channelPushReceived,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ReconcilePass() {
	if m == nil {
		return
	}
	m.reconcilePasses.Inc()
}

func (m *Metrics) ReconcileMatched(rule string) {
	if m == nil {
		return
	}
	m.reconcileMatched.WithLabelValues(rule).Inc()
}

func (m *Metrics) SpeculativePending(delta int) {
	if m == nil {
		return
	}
	m.speculativePending.Add(float64(delta))
}

func (m *Metrics) SpeculativeDiscarded(n int) {
	if m == nil {
		return
	}
	m.speculativeDropped.Add(float64(n))
}

// ConnectionState flips the state gauge to the new state and counts the transition
func (m *Metrics) ConnectionState(from, to string) {
	if m == nil {
		return
	}
	m.connectionState.WithLabelValues(from).Set(0)
	m.connectionState.WithLabelValues(to).Set(1)
	m.connectionChanges.WithLabelValues(to).Inc()
}

func (m *Metrics) MutationFailure(op string) {
	if m == nil {
		return
	}
	m.mutationFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Refetch(reason string) {
	if m == nil {
		return
	}
	m.refetches.WithLabelValues(reason).Inc()
}

func (m *Metrics) PlaybackConflict() {
	if m == nil {
		return
	}
	m.playbackConflicts.Inc()
}

func (m *Metrics) PlaybackStart() {
	if m == nil {
		return
	}
	m.playbackStarts.Inc()
}

func (m *Metrics) PushReceived(kind string) {
	if m == nil {
		return
	}
	m.channelPushReceived.WithLabelValues(kind).Inc()
}
