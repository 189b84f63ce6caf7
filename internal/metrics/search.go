package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Upstream Prometheus metrics.
var (
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shoplens",
			Name:      "provider_requests_total",
			Help:      "Total number of product-search provider requests",
		},
		[]string{"provider", "status"}, // "success" / "error" / "timeout"
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shoplens",
			Name:      "provider_request_duration_seconds",
			Help:      "Product-search provider request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)

	ProviderProductsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shoplens",
			Name:      "provider_products_total",
			Help:      "Total normalized products returned by providers",
		},
		[]string{"provider"},
	)

	VisionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shoplens",
			Name:      "vision_requests_total",
			Help:      "Total number of image-classification requests",
		},
		[]string{"driver", "status"},
	)

	SimilarityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shoplens",
			Name:      "similarity_runs_total",
			Help:      "Similarity subprocess runs by outcome",
		},
		[]string{"outcome"}, // "success" / "mocked" / "error"
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shoplens",
			Name:      "search_cache_total",
			Help:      "Provider result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss" / "error"
	)
)

var registerOnce sync.Once

// RegisterSearchMetrics registers upstream metrics. Must be called once from main.
func RegisterSearchMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ProviderRequestsTotal)
		prometheus.MustRegister(ProviderRequestDuration)
		prometheus.MustRegister(ProviderProductsTotal)
		prometheus.MustRegister(VisionRequestsTotal)
		prometheus.MustRegister(SimilarityRunsTotal)
		prometheus.MustRegister(SearchCacheTotal)
	})
}
