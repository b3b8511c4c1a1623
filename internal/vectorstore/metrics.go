package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// operationsTotal counts backend operations.
// Labels: provider (qdrant, chromem), operation, result (success, error, circuit_open)
var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "vectorstore",
		Name:      "operations_total",
		Help:      "Total number of vector store operations by provider, operation and result",
	},
	[]string{"provider", "operation", "result"},
)

func recordOperation(provider, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(provider, operation, result).Inc()
}
