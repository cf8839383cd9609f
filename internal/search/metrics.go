package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus instruments.
type Metrics struct {
	searches   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections prometheus.Counter
	fallbacks  prometheus.Counter
	cacheHits  prometheus.Counter
	cacheMiss  prometheus.Counter
}

// NewMetrics registers the service metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "searches_total",
			Help:      "Completed searches by outcome and lane.",
		}, []string{"outcome", "lane"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchd",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"lane"}),
		rejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "admission_rejections_total",
			Help:      "Requests rejected by the rate limiter or concurrency gate.",
		}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "fallback_extractions_total",
			Help:      "LLM fallback extraction calls.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "cache_hits_total",
			Help:      "Envelope cache hits.",
		}),
		cacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "cache_misses_total",
			Help:      "Envelope cache misses.",
		}),
	}
}
