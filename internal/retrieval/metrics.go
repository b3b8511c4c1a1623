package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragd_retrieval_search_failures_total",
		Help: "Vector searches that failed and degraded to no context.",
	})

	noiseDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragd_retrieval_noise_dropped_total",
		Help: "Search results dropped because their content was blank.",
	})
)
