// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Total number of ingestion jobs processed, labeled by status.",
		},
		[]string{"status"},
	)

	ingestArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_articles_total",
			Help: "Articles seen by the pipeline, labeled by outcome (fetched, duplicate, rejected, stored).",
		},
		[]string{"outcome"},
	)

	ingestJobDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_job_duration_seconds",
			Help:    "Histogram of end-to-end job latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_requests_total",
			Help: "Total number of provider search requests, labeled by status.",
		},
		[]string{"status"},
	)

	fetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Histogram of provider search latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	dedupCacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_errors_total",
			Help: "Total number of dedup cache failures, labeled by operation.",
		},
		[]string{"op"},
	)

	storageWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_writes_total",
			Help: "Total number of object writes, labeled by tier and status.",
		},
		[]string{"tier", "status"},
	)

	storageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_bytes_total",
			Help: "Total bytes written, labeled by tier.",
		},
		[]string{"tier"},
	)

	queueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Total number of queue messages handled, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_active_workers",
			Help: "Number of workers currently processing a batch.",
		},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob records a finished job and its latency.
func ObserveJob(status string, duration time.Duration) {
	ingestJobsTotal.WithLabelValues(status).Inc()
	ingestJobDurationSeconds.Observe(duration.Seconds())
}

// ObserveArticles adds n articles to the given outcome.
func ObserveArticles(outcome string, n int) {
	if n <= 0 {
		return
	}
	ingestArticlesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveFetch records one provider request.
func ObserveFetch(status string, duration time.Duration) {
	fetchRequestsTotal.WithLabelValues(status).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveDedupError counts a cache failure for op ("check" or "mark").
func ObserveDedupError(op string) {
	dedupCacheErrorsTotal.WithLabelValues(op).Inc()
}

// ObserveStorageWrite records one object write for a retention tier.
func ObserveStorageWrite(tier, status string, bytesWritten int) {
	storageWritesTotal.WithLabelValues(tier, status).Inc()
	if bytesWritten > 0 {
		storageBytesTotal.WithLabelValues(tier).Add(float64(bytesWritten))
	}
}

// ObserveQueueMessage records the outcome of one queue delivery.
func ObserveQueueMessage(outcome string) {
	queueMessagesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
