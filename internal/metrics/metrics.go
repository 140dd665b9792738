package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_sweep_items_total",
		Help: "Events visited by background sweeps, labelled by sweep and outcome.",
	}, []string{"sweep", "outcome"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollcall_sweep_duration_seconds",
		Help:    "Wall-clock duration of one sweep run.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"sweep"})

	Reactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_reactions_total",
		Help: "Reactions handled on announcement posts, labelled by symbol and outcome.",
	}, []string{"symbol", "outcome"})

	ReactionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_reaction_queue_depth",
		Help: "Reactions waiting in the single-consumer queue.",
	})

	ReactionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_reactions_dropped_total",
		Help: "Reactions rejected because the queue was full.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_notifications_total",
		Help: "User notifications, labelled by outcome (dm, channel, failed).",
	}, []string{"outcome"})

	ReconcileWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_reconcile_writes_total",
		Help: "Channel writes issued by the reconciler, labelled by operation.",
	}, []string{"op"})

	PolicyCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_policy_cache_total",
		Help: "Guild policy lookups, labelled by result (hit, miss, default).",
	}, []string{"result"})
)
