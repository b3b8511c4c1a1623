package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ragd_llm_completion_duration_seconds",
	Help:    "Chat completion latency by model.",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"model"})
