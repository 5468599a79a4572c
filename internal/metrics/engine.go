package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine Prometheus metrics.
var (
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdex",
			Name:      "embedding_cache_ops_total",
			Help:      "Embedding cache inserts, reference changes and reclaimed entries",
		},
		[]string{"op"}, // "insert" / "increment" / "decrement" / "reclaim"
	)

	SimilarityCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdex",
			Name:      "similarity_cache_total",
			Help:      "Similarity result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	SimilarityQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgdex",
			Name:      "similarity_query_duration_seconds",
			Help:      "Similarity query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	CompiledBranches = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgdex",
			Name:      "compiled_query_branches",
			Help:      "Set-algebra branches per compiled catalog query",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		},
		[]string{"dialect"},
	)
)

var registerOnce sync.Once

// RegisterEngineMetrics registers engine and HTTP metrics with the default
// registry. Repeated calls are no-ops.
func RegisterEngineMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheOpsTotal,
			SimilarityCacheTotal,
			SimilarityQueryDuration,
			CompiledBranches,
			httpRequestDuration,
			httpRequestsTotal,
			httpInFlight,
		)
	})
}
