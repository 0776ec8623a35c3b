// Package metrics exposes Prometheus collectors for the crawler.
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

var (
	requestAttemptsTotal       *prometheus.CounterVec
	requestOutcomesTotal       *prometheus.CounterVec
	requestBytesTotal          *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	listingsParsedTotal        *prometheus.CounterVec
	upsertActionsTotal         *prometheus.CounterVec
	sweptListingsTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_request_attempts_total",
				Help: "Outbound request attempts, labeled by site.",
			},
			[]string{"site"},
		)

		requestOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_request_outcomes_total",
				Help: "Final outcome of dispatched requests, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		requestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		listingsParsedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_listings_parsed_total",
				Help: "Listings emitted by parsers, labeled by source.",
			},
			[]string{"source"},
		)

		upsertActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_upsert_actions_total",
				Help: "Per-record upsert outcomes, labeled by source and action.",
			},
			[]string{"source", "action"},
		)

		sweptListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_swept_listings_total",
				Help: "Listings soft-deleted by partition sweeps, labeled by source.",
			},
			[]string{"source"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Completed source runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Wall time of source runs.",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"source"},
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
	})
}

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

// ObserveAttempt counts one outbound request attempt.
func ObserveAttempt(rawURL string) {
	Init()
	requestAttemptsTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRequest records the final outcome of a dispatched request.
func ObserveRequest(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	requestOutcomesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		requestBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveListings counts listings emitted by a parser.
func ObserveListings(source string, n int) {
	Init()
	listingsParsedTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveUpsert counts per-record upsert outcomes.
func ObserveUpsert(source, action string, n int) {
	Init()
	if n <= 0 {
		return
	}
	upsertActionsTotal.WithLabelValues(source, action).Add(float64(n))
}

// ObserveSwept counts listings soft-deleted by a sweep.
func ObserveSwept(source string, n int64) {
	Init()
	if n <= 0 {
		return
	}
	sweptListingsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveRun records a finished source run.
func ObserveRun(source, status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(source, status).Inc()
	runDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
