package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the Prometheus registry for the BitChat engine. It is kept
// separate from the global default registry so embedding applications can
// choose whether to expose it.
var Registry = prometheus.NewRegistry()

// Handshake metrics.
var (
	HandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitchat",
			Subsystem: "handshake",
			Name:      "total",
			Help:      "Handshakes attempted, by outcome.",
		},
		[]string{"outcome"}, // completed|failed
	)
	HandshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bitchat",
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// Session metrics.
var (
	SessionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bitchat",
			Subsystem: "session",
			Name:      "count",
			Help:      "Current number of sessions, by state.",
		},
		[]string{"state"},
	)
	RekeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bitchat",
			Subsystem: "session",
			Name:      "rekeys_total",
			Help:      "Total completed in-band rekeys.",
		},
	)
)

// Dedup metrics.
var (
	DedupVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitchat",
			Subsystem: "dedup",
			Name:      "verdicts_total",
			Help:      "Dedup verdicts by result.",
		},
		[]string{"result"}, // seen|accepted
	)
)

// Delivery metrics.
var (
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitchat",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by kind.",
		},
		[]string{"kind"}, // initial|retry
	)
	DeliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitchat",
			Subsystem: "delivery",
			Name:      "outcomes_total",
			Help:      "Delivery outcomes.",
		},
		[]string{"outcome"}, // delivered|failed
	)
)

// Fragment metrics.
var (
	FragmentGroups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitchat",
			Subsystem: "fragment",
			Name:      "groups_total",
			Help:      "Fragment reassembly group outcomes.",
		},
		[]string{"outcome"}, // started|reassembled|expired
	)
)

func init() {
	Registry.MustRegister(
		HandshakesTotal,
		HandshakeDuration,
		SessionsByState,
		RekeysTotal,
		DedupVerdicts,
		DeliveryAttempts,
		DeliveryOutcomes,
		FragmentGroups,
	)
}
