// Package metrics exposes Prometheus collectors for the content brief service.
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
	briefPagesTotal              *prometheus.CounterVec
	briefPageBytesTotal          *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	briefJobsTotal               *prometheus.CounterVec
	briefActiveWorkers           prometheus.Gauge
	briefRateLimitDelaysSeconds  *prometheus.HistogramVec
	briefAnalysisDurationSeconds *prometheus.HistogramVec
	briefStreamsOpen             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		briefPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brief_pages_total",
				Help: "Competitor pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		briefPageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brief_page_bytes_total",
				Help: "Total number of bytes fetched from competitor pages, labeled by site.",
			},
			[]string{"site"},
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

		briefJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brief_jobs_total",
				Help: "Total number of jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		briefActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "brief_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		briefRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brief_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		briefAnalysisDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brief_analysis_duration_seconds",
				Help:    "Latency of language model calls, labeled by outcome.",
				Buckets: []float64{1, 5, 10, 20, 40, 60, 120},
			},
			[]string{"outcome"},
		)

		briefStreamsOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "brief_streams_open",
				Help: "Number of progress streams currently connected.",
			},
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

// ObservePage records the outcome of one competitor page.
func ObservePage(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	briefPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		briefPageBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	briefJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	briefActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	briefActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	briefRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveAnalysis records how long a language model call took.
func ObserveAnalysis(outcome string, duration time.Duration) {
	Init()
	briefAnalysisDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// StreamOpened increments the open stream gauge.
func StreamOpened() {
	Init()
	briefStreamsOpen.Inc()
}

// StreamClosed decrements the open stream gauge.
func StreamClosed() {
	Init()
	briefStreamsOpen.Dec()
}
