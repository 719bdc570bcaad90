package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics instruments the API: request counts and latency per route plus
// layer cache effectiveness, exposed at /metrics.
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "soilhex",
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route, method, and status.",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "soilhex",
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
			},
			[]string{"route"},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "soilhex",
				Name:      "layer_cache_hits_total",
				Help:      "Total number of layer cache hits.",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "soilhex",
				Name:      "layer_cache_misses_total",
				Help:      "Total number of layer cache misses.",
			},
		),
	}
}
