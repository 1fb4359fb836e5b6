package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide Prometheus collectors. Registered once via promauto on
// the default registry; the embedding application exposes the scrape
// endpoint.
var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "router",
		Name:      "turns_total",
		Help:      "Turns handled, labeled by route type.",
	}, []string{"route"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marginalia",
		Subsystem: "router",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "LLM requests, labeled by provider and outcome.",
	}, []string{"provider", "outcome"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marginalia",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "LLM request latency, labeled by provider.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens consumed, labeled by provider.",
	}, []string{"provider"})

	ClassifierCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "intent",
		Name:      "cache_hits_total",
		Help:      "Intent classification cache hits.",
	})

	ClassifierCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "intent",
		Name:      "cache_misses_total",
		Help:      "Intent classification cache misses.",
	})

	MemoryOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "memory",
		Name:      "operations_total",
		Help:      "Memory store operations, labeled by operation and outcome.",
	}, []string{"op", "outcome"})
)
