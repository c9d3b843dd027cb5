package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts processed activity events.
	// Labels: kind, outcome (applied, replayed, rejected, error)
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "tracker",
		Name:      "events_total",
		Help:      "Activity events processed by outcome",
	}, []string{"kind", "outcome"})

	eventLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pai_progress",
		Subsystem: "tracker",
		Name:      "event_duration_seconds",
		Help:      "Time to apply one activity event",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"kind"})

	xpAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "tracker",
		Name:      "xp_awarded_total",
		Help:      "XP credited by event kind",
	}, []string{"kind"})

	levelUps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "tracker",
		Name:      "level_ups_total",
		Help:      "Level increases across all users",
	})

	// badgesUnlocked counts unlocks. Labels: badge
	badgesUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "tracker",
		Name:      "badges_unlocked_total",
		Help:      "Badge unlocks by badge id",
	}, []string{"badge"})

	storeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "store",
		Name:      "serialization_retries_total",
		Help:      "Progress writes retried after a serialization failure",
	})
)
