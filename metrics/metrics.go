package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_transitions_total",
			Help: "Accepted state transitions by entity",
		},
		[]string{"entity", "from", "to"},
	)

	CascadeCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_cascade_completions_total",
			Help: "Automatic completions performed by the cascade engine",
		},
		[]string{"level"},
	)

	ContractsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_contracts_created_total",
			Help: "Contracts created from accepted proposals",
		},
	)

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_side_effect_failures_total",
			Help: "Failed notification and email side effects",
		},
		[]string{"kind"},
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_events_dispatched_total",
			Help: "Domain events handed to the dispatcher after commit",
		},
		[]string{"type"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engagement_dispatch_duration_seconds",
			Help:    "Time spent delivering notifications and emails for one unit of work",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_outbox_published_total",
			Help: "Outbox rows relayed to the message broker",
		},
		[]string{"result"},
	)
)

func ObserveTransition(entity, from, to string) {
	Transitions.WithLabelValues(entity, from, to).Inc()
}
