// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal              *prometheus.CounterVec
	captureBytesTotal          *prometheus.CounterVec
	captureStageSeconds        *prometheus.HistogramVec
	storageFallbacksTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	admissionRejectedTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_captures_total",
				Help: "Total capture attempts, labeled by terminal status, artifact type and renderer.",
			},
			[]string{"status", "artifact_type", "renderer"},
		)

		captureBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_capture_bytes_total",
				Help: "Total artifact bytes archived, labeled by artifact type.",
			},
			[]string{"artifact_type"},
		)

		captureStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_capture_stage_seconds",
				Help:    "Histogram of pipeline stage latencies.",
				Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"stage"},
		)

		storageFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_storage_version_fallbacks_total",
				Help: "Requests for a stale artifact version served from the latest version.",
			},
			[]string{"operation"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_jobs_total",
				Help: "Total number of queued capture jobs processed, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Number of workers currently processing a capture job.",
			},
		)

		admissionRejectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_admission_rejected_total",
				Help: "Capture requests rejected by the per-owner rate limit.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records a terminal capture outcome.
func ObserveCapture(status, artifactType, renderer string, size int) {
	Init()
	capturesTotal.WithLabelValues(status, artifactType, renderer).Inc()
	if size > 0 {
		captureBytesTotal.WithLabelValues(artifactType).Add(float64(size))
	}
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	captureStageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveVersionFallback counts a stale-version request served from latest.
func ObserveVersionFallback(operation string) {
	Init()
	storageFallbacksTotal.WithLabelValues(operation).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter.
func ObserveJob(source, status string) {
	Init()
	jobsTotal.WithLabelValues(source, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveAdmissionRejected counts a rate-limited capture request.
func ObserveAdmissionRejected() {
	Init()
	admissionRejectedTotal.Inc()
}
