package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_fetch_outcomes_total",
			Help: "Per-item fetch outcomes by provider",
		},
		[]string{"provider", "outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracksync_run_duration_seconds",
			Help:    "Duration of one reconciliation run",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	rowsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_rows_persisted_total",
			Help: "Rows queued for persistence by kind",
		},
		[]string{"kind"},
	)

	persistRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracksync_persist_retries_total",
			Help: "Store write retries at chunk granularity",
		},
	)
)
