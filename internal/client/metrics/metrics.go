// Package metrics exposes sync engine counters through Prometheus.
package metrics

import (
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pantrysync"

// Metrics implements queue.Observer and carries the realtime gauges.
type Metrics struct {
	Replays        *prometheus.CounterVec
	ReplayDuration *prometheus.HistogramVec
	Pending        prometheus.Gauge
	RealtimeState  *prometheus.GaugeVec
	Reconnects     prometheus.Counter
	EchoSuppressed *prometheus.CounterVec
	Invalidations  *prometheus.CounterVec
}

var _ queue.Observer = (*Metrics)(nil)

// New registers all collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "replays_total",
			Help:      "Mutation replay attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ReplayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "replay_duration_seconds",
			Help:      "Time spent executing a single mutation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Mutations waiting for replay.",
		}),
		RealtimeState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "state",
			Help:      "1 for the current subscription state, 0 otherwise.",
		}, []string{"state"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a dropped subscription.",
		}),
		EchoSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "echo_suppressed_total",
			Help:      "Change events ignored because they echo a local mutation.",
		}, []string{"kind"}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations by cause.",
		}, []string{"cause"}),
	}
}

func (m *Metrics) Replayed(kind models.MutationKind, outcome queue.Outcome, took time.Duration) {
	m.Replays.WithLabelValues(string(kind), outcome.String()).Inc()
	m.ReplayDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (m *Metrics) PendingChanged(n int) {
	m.Pending.Set(float64(n))
}

// StateChanged flips the state gauge so exactly one label is set.
func (m *Metrics) StateChanged(from, to string) {
	if from != "" {
		m.RealtimeState.WithLabelValues(from).Set(0)
	}
	m.RealtimeState.WithLabelValues(to).Set(1)
}

func (m *Metrics) Reconnecting() { m.Reconnects.Inc() }

func (m *Metrics) EchoIgnored(kind string) { m.EchoSuppressed.WithLabelValues(kind).Inc() }

func (m *Metrics) Invalidated(cause string) { m.Invalidations.WithLabelValues(cause).Inc() }
