package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts ReconcileAll runs. Labels: outcome (ok, error, canceled)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Full reconciliation runs by outcome",
	}, []string{"outcome"})

	usersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pai_progress",
		Subsystem: "reconcile",
		Name:      "users_total",
		Help:      "Users reconciled during full runs by outcome",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pai_progress",
		Subsystem: "reconcile",
		Name:      "run_duration_seconds",
		Help:      "Duration of full reconciliation runs",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	lastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pai_progress",
		Subsystem: "reconcile",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last completed full reconciliation",
	})
)
