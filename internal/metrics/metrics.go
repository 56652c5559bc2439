// Package metrics exposes Prometheus collectors for the listing crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by several collectors.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
	OutcomeSkipped = "skipped"
)

var (
	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_fetch_requests_total",
			Help: "Total number of upstream fetches, labeled by site, mode and outcome.",
		},
		[]string{"site", "premium", "render", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_fetch_bytes_total",
			Help: "Total number of body bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listing_fetch_duration_seconds",
			Help:    "Histogram of upstream fetch latencies, labeled by premium mode.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"premium"},
	)

	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_retry_attempts_total",
			Help: "Total number of attempts made by the retry orchestrator, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	retryEscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_retry_escalations_total",
			Help: "Total number of switches to premium fetch mode, labeled by operation.",
		},
		[]string{"operation"},
	)

	retryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_retry_exhausted_total",
			Help: "Total number of calls that failed on every attempt, labeled by operation.",
		},
		[]string{"operation"},
	)

	batchTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_batch_tasks_total",
			Help: "Total number of dispatched batch tasks, labeled by batch and outcome.",
		},
		[]string{"batch", "outcome"},
	)

	batchInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listing_batch_inflight_tasks",
			Help: "Number of batch tasks currently executing.",
		},
		[]string{"batch"},
	)

	sinkRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_sink_records_total",
			Help: "Total number of records handed to sinks, labeled by sink and outcome.",
		},
		[]string{"sink", "outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_jobs_total",
			Help: "Total number of crawl jobs processed, labeled by status.",
		},
		[]string{"status"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listing_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one upstream fetch.
func ObserveFetch(targetURL string, premium, render bool, err error, bytesFetched int, duration time.Duration) {
	site := SanitizeSite(targetURL)
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	fetchRequestsTotal.WithLabelValues(site, strconv.FormatBool(premium), strconv.FormatBool(render), outcome).Inc()
	fetchDurationSeconds.WithLabelValues(strconv.FormatBool(premium)).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveAttempt records one retry orchestrator attempt.
func ObserveAttempt(operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	retryAttemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveEscalation records a switch to premium mode.
func ObserveEscalation(operation string) {
	retryEscalationsTotal.WithLabelValues(operation).Inc()
}

// ObserveExhausted records a call that ran out of attempts.
func ObserveExhausted(operation string) {
	retryExhaustedTotal.WithLabelValues(operation).Inc()
}

// ObserveBatchTask records the outcome of one dispatched task.
func ObserveBatchTask(batch, outcome string) {
	batchTasksTotal.WithLabelValues(batch, outcome).Inc()
}

// IncInflight increments the in-flight gauge for batch.
func IncInflight(batch string) {
	batchInflight.WithLabelValues(batch).Inc()
}

// DecInflight decrements the in-flight gauge for batch.
func DecInflight(batch string) {
	batchInflight.WithLabelValues(batch).Dec()
}

// ObserveSink records records accepted or skipped by a sink.
func ObserveSink(sink, outcome string, n int) {
	if n <= 0 {
		return
	}
	sinkRecordsTotal.WithLabelValues(sink, outcome).Add(float64(n))
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records metrics for an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
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
