// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes recorded by ObservePage.
const (
	PagePersisted = "persisted"
	PageEmpty     = "empty"
	PageSkipped   = "skipped"
	PageFailed    = "failed"
)

var (
	harvesterPagesTotal           *prometheus.CounterVec
	harvesterRecordsInsertedTotal *prometheus.CounterVec
	harvesterCountQueriesTotal    *prometheus.CounterVec
	harvesterPartitionsTotal      *prometheus.CounterVec
	harvesterPoolInFlight         prometheus.Gauge
	searchRequestsTotal           *prometheus.CounterVec
	searchRequestDurationSeconds  *prometheus.HistogramVec
	searchRetriesTotal            *prometheus.CounterVec
	searchRateLimitDelaysSeconds  *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Page tasks processed, labeled by institution and outcome.",
			},
			[]string{"institution", "outcome"},
		)

		harvesterRecordsInsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_inserted_total",
				Help: "Records newly inserted into the record store, labeled by institution.",
			},
			[]string{"institution"},
		)

		harvesterCountQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_count_queries_total",
				Help: "Partition count lookups, labeled by institution and source (remote or cache).",
			},
			[]string{"institution", "source"},
		)

		harvesterPartitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_partitions_total",
				Help: "Partitions classified by the planner, labeled by institution and state.",
			},
			[]string{"institution", "state"},
		)

		harvesterPoolInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_pool_in_flight",
				Help: "Page tasks currently executing across all task pools.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_search_requests_total",
				Help: "Requests to LibSP endpoints, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		searchRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_search_request_duration_seconds",
				Help:    "Latency of LibSP requests, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		searchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_search_retries_total",
				Help: "Retried LibSP requests, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		searchRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input cannot be parsed.
func SanitizeHost(rawURL string) string {
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts one page task outcome.
func ObservePage(institution, outcome string) {
	Init()
	harvesterPagesTotal.WithLabelValues(institution, outcome).Inc()
}

// ObserveRecordsInserted adds newly inserted records.
func ObserveRecordsInserted(institution string, n int64) {
	Init()
	if n > 0 {
		harvesterRecordsInsertedTotal.WithLabelValues(institution).Add(float64(n))
	}
}

// ObserveCountQuery counts a partition count lookup.
func ObserveCountQuery(institution string, cached bool) {
	Init()
	source := "remote"
	if cached {
		source = "cache"
	}
	harvesterCountQueriesTotal.WithLabelValues(institution, source).Inc()
}

// ObservePartition counts a planner classification.
func ObservePartition(institution, state string) {
	Init()
	harvesterPartitionsTotal.WithLabelValues(institution, state).Inc()
}

// IncInFlight increments the in-flight page gauge.
func IncInFlight() {
	Init()
	harvesterPoolInFlight.Inc()
}

// DecInFlight decrements the in-flight page gauge.
func DecInFlight() {
	Init()
	harvesterPoolInFlight.Dec()
}

// ObserveSearchRequest records one LibSP request attempt.
func ObserveSearchRequest(endpoint, outcome string, duration time.Duration) {
	Init()
	searchRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	searchRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry counts a retried LibSP request.
func ObserveRetry(endpoint string) {
	Init()
	searchRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	searchRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the status API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
