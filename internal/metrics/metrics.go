// Package metrics exposes Prometheus collectors for the pixelmirror service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	entriesCreatedTotal  prometheus.Counter
	viewsTotal           prometheus.Counter
	evictionsTotal       prometheus.Counter
	fetchFailuresTotal   prometheus.Counter
	encodingRepairsTotal *prometheus.CounterVec

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		entriesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmirror_entries_created_total",
			Help: "Total number of entries created.",
		})
		viewsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmirror_views_total",
			Help: "Total number of stored documents served.",
		})
		evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmirror_evictions_total",
			Help: "Total number of entries evicted at the cap.",
		})
		fetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmirror_fetch_failures_total",
			Help: "Total number of target page fetches that failed.",
		})
		encodingRepairsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmirror_encoding_repairs_total",
				Help: "Total number of documents repaired from mojibake, labeled by accepted encoding.",
			},
			[]string{"encoding"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// IncEntryCreated increments the entry creation counter.
func IncEntryCreated() {
	Init()
	entriesCreatedTotal.Inc()
}

// IncView increments the view counter.
func IncView() {
	Init()
	viewsTotal.Inc()
}

// IncEviction increments the eviction counter.
func IncEviction() {
	Init()
	evictionsTotal.Inc()
}

// IncFetchFailure increments the fetch failure counter.
func IncFetchFailure() {
	Init()
	fetchFailuresTotal.Inc()
}

// IncEncodingRepair records a successful mojibake repair.
func IncEncodingRepair(encoding string) {
	Init()
	encodingRepairsTotal.WithLabelValues(encoding).Inc()
}
