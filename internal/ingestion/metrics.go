package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragd_ingestion_chunks_total",
		Help: "Chunks processed by ingestion, by status (written, skipped).",
	}, []string{"status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragd_ingestion_runs_total",
		Help: "Ingestion runs by outcome (ok, empty, failed).",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragd_ingestion_duration_seconds",
		Help:    "Wall time of one ingestion run.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
