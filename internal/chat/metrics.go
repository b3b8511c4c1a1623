package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragd_chat_requests_total",
		Help: "Chat turns by outcome.",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragd_chat_turn_duration_seconds",
		Help:    "End-to-end chat turn latency by outcome.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})
)
