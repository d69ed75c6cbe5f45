// Package metrics exposes Prometheus collectors for the relay service.
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

// Delivery results used as the "result" label.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

var (
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	runInProgress              prometheus.Gauge
	postsFetchedTotal          prometheus.Counter
	deliveriesTotal            *prometheus.CounterVec
	cursorPosition             *prometheus.GaugeVec
	throttleDelaySeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrelay_runs_total",
				Help: "Total number of pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postrelay_run_duration_seconds",
				Help:    "Histogram of pipeline run durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		runInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "postrelay_run_in_progress",
				Help: "1 while a pipeline run is executing.",
			},
		)

		postsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "postrelay_posts_fetched_total",
				Help: "Total number of posts returned by the remote API.",
			},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrelay_deliveries_total",
				Help: "Total number of per-post delivery results, labeled by result.",
			},
			[]string{"result"},
		)

		cursorPosition = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "postrelay_cursor_position",
				Help: "Last persisted cursor position, labeled by source.",
			},
			[]string{"source"},
		)

		throttleDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postrelay_delivery_throttle_seconds",
				Help:    "Histogram of time spent waiting on the delivery rate limit.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one finished run.
func ObserveRun(outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// SetRunInProgress flips the in-progress gauge.
func SetRunInProgress(active bool) {
	Init()
	if active {
		runInProgress.Set(1)
		return
	}
	runInProgress.Set(0)
}

// AddPostsFetched counts posts returned by one fetch.
func AddPostsFetched(n int) {
	Init()
	if n > 0 {
		postsFetchedTotal.Add(float64(n))
	}
}

// ObserveDelivery counts one per-post delivery result.
func ObserveDelivery(result string) {
	Init()
	deliveriesTotal.WithLabelValues(result).Inc()
}

// SetCursorPosition publishes the persisted cursor for source.
func SetCursorPosition(source string, lastID int64) {
	Init()
	cursorPosition.WithLabelValues(source).Set(float64(lastID))
}

// ObserveThrottleDelay records the duration of a rate limit wait.
func ObserveThrottleDelay(duration time.Duration) {
	Init()
	throttleDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
