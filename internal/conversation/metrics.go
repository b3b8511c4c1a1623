package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragd_conversation_sessions_created_total",
		Help: "Conversation histories created.",
	})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragd_conversation_evictions_total",
		Help: "Conversation histories evicted, by reason (ttl, capacity).",
	}, []string{"reason"})
)
