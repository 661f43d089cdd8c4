// Package peepsmetrics exposes the registry's and push client's internal
// counters as Prometheus metrics: a Metrics struct of promauto-registered
// vectors built once in a constructor, updated by whichever component owns
// the counter.
package peepsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ocx/peeps/internal/pushclient"
	"github.com/ocx/peeps/internal/registry"
)

// Metrics holds every Prometheus collector Peeps registers for itself. It is
// deliberately small: this observes the instrumentation layer's own health,
// never the user's business metrics.
type Metrics struct {
	EntitiesLive     *prometheus.GaugeVec
	EventsDropped    prometheus.Gauge
	SnapshotsDropped prometheus.Gauge
	UnresolvedEdges  prometheus.Gauge
	PushState        *prometheus.GaugeVec
}

// NewMetrics constructs and registers the collector set against the default
// Prometheus registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		EntitiesLive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "peeps_entities_live",
				Help: "Number of live registry entities by kind.",
			},
			[]string{"kind"},
		),
		EventsDropped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "peeps_events_dropped_total",
				Help: "Events overwritten in the bounded event ring before being drained.",
			},
		),
		SnapshotsDropped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "peeps_snapshots_dropped_total",
				Help: "Graph snapshots dropped by the push client due to write backpressure.",
			},
		),
		UnresolvedEdges: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "peeps_unresolved_edges",
				Help: "Edges parked awaiting cross-process or later-arriving resolution.",
			},
		),
		PushState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "peeps_push_client_state",
				Help: "1 for the push client's current reconnect state, 0 for all others.",
			},
			[]string{"state"},
		),
	}
}

// Observe updates the entity/event/edge gauges from a registry snapshot.
func (m *Metrics) Observe(snap registry.Snapshot) {
	counts := make(map[registry.Kind]int)
	for _, e := range snap.Entities {
		counts[e.Kind]++
	}
	for _, k := range []registry.Kind{
		registry.KindFuture, registry.KindLock, registry.KindRWLock,
		registry.KindChannelTx, registry.KindChannelRx, registry.KindSemaphore,
		registry.KindOnceCell, registry.KindRequest, registry.KindResponse,
		registry.KindConnection,
	} {
		m.EntitiesLive.WithLabelValues(k.String()).Set(float64(counts[k]))
	}
	m.EventsDropped.Set(float64(snap.DroppedEvents))

	unresolved := 0
	for _, pending := range snap.UnresolvedEdges {
		unresolved += len(pending)
	}
	m.UnresolvedEdges.Set(float64(unresolved))
}

// ObservePushState zeroes every known state gauge and sets the current one
// to 1, so a Prometheus query always sees exactly one active series.
func (m *Metrics) ObservePushState(current pushclient.State) {
	for _, s := range []pushclient.State{
		pushclient.StateIdle, pushclient.StateConnecting, pushclient.StateHandshaking,
		pushclient.StateStreaming, pushclient.StateDisconnected, pushclient.StateShutdown,
	} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.PushState.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveDroppedSnapshot records one push-client backpressure drop.
func (m *Metrics) ObserveDroppedSnapshot(total uint64) {
	m.SnapshotsDropped.Set(float64(total))
}
