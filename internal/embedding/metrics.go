package embedding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	embedCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_provider_calls_total",
		Help: "Total calls made to the embedding provider.",
	})
	embedFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_provider_failures_total",
		Help: "Total embedding provider calls that failed.",
	})
)
