// Package metrics exposes Prometheus collectors for the lead-generation service.
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

	threadsScoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadgen_threads_scored_total",
			Help: "Total number of threads sent for relevance scoring, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	queueItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadgen_queue_items_total",
			Help: "Total number of queue item transitions, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	cooldownHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadgen_cooldown_hits_total",
			Help: "Total number of posts deferred by the subreddit cooldown.",
		},
		[]string{"subreddit"},
	)

	externalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadgen_external_calls_total",
			Help: "Total number of third-party API calls, labeled by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadgen_active_workers",
			Help: "Number of workers currently executing a workflow run.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadgen_rate_limit_delays_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	progressDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadgen_progress_events_dropped_total",
			Help: "Total number of run progress events dropped because the hub buffer was full.",
		},
		[]string{"kind"},
	)
)

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScore counts a scoring attempt ("scored" or "failed").
func ObserveScore(outcome string) {
	threadsScoredTotal.WithLabelValues(outcome).Inc()
}

// ObserveQueueItem counts a queue item transition.
func ObserveQueueItem(kind, status string) {
	queueItemsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveCooldownHit counts a post deferred by the subreddit cooldown.
func ObserveCooldownHit(subreddit string) {
	cooldownHitsTotal.WithLabelValues(subreddit).Inc()
}

// ObserveExternalCall counts a third-party API call.
func ObserveExternalCall(service string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	externalCallsTotal.WithLabelValues(service, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveProgressDropped counts a progress event lost to a full buffer.
func ObserveProgressDropped(kind string) {
	progressDroppedTotal.WithLabelValues(kind).Inc()
}

// ProgressDropped exposes the dropped-events counter for one kind.
func ProgressDropped(kind string) prometheus.Counter {
	return progressDroppedTotal.WithLabelValues(kind)
}
