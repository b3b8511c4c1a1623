package operations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ragd_operation_events_published_total",
	Help: "Operation lifecycle events published to NATS, by state.",
}, []string{"state"})
