// Package metrics exposes Prometheus collectors for the contest board service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestboard_builds_total",
			Help: "Total number of snapshot build cycles, labeled by outcome.",
		},
		[]string{"status"},
	)

	buildDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contestboard_build_duration_seconds",
			Help:    "Histogram of snapshot build durations.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	contestsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contestboard_contests",
			Help: "Number of contests in the currently published snapshot.",
		},
	)

	lastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contestboard_last_success_timestamp_seconds",
			Help: "Unix time of the last successful publish.",
		},
	)

	itemsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestboard_items_skipped_total",
			Help: "Total number of contests dropped during builds, labeled by reason.",
		},
		[]string{"reason"},
	)

	imagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestboard_images_total",
			Help: "Total number of thumbnail derivations, labeled by outcome.",
		},
		[]string{"status"},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestboard_fetches_total",
			Help: "Total number of outbound fetches, labeled by site and status.",
		},
		[]string{"site", "status"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestboard_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by site.",
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
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contestboard_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
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

// ObserveBuild records the outcome and duration of one build cycle.
func ObserveBuild(status string, duration time.Duration) {
	buildsTotal.WithLabelValues(status).Inc()
	buildDurationSeconds.Observe(duration.Seconds())
}

// ObservePublish records a successful publish.
func ObservePublish(contestCount int, at time.Time) {
	contestsGauge.Set(float64(contestCount))
	lastSuccessTimestamp.Set(float64(at.Unix()))
}

// ObserveSkip increments the skipped-contest counter.
func ObserveSkip(reason string) {
	itemsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveImage records a thumbnail derivation outcome.
func ObserveImage(status string) {
	imagesTotal.WithLabelValues(status).Inc()
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
