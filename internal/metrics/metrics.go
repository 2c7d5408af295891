// Package metrics exposes Prometheus collectors for the analysis service.
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
	analysisJobsTotal               *prometheus.CounterVec
	engineEvaluationsTotal          *prometheus.CounterVec
	engineEvaluationDurationSeconds *prometheus.HistogramVec
	engineRestartsTotal             prometheus.Counter
	queueJobs                       *prometheus.GaugeVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analysisJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_jobs_total",
				Help: "Total number of analysis jobs processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		engineEvaluationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_evaluations_total",
				Help: "Total number of engine position evaluations, labeled by engine.",
			},
			[]string{"engine"},
		)

		engineEvaluationDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "game_analysis_duration_seconds",
				Help:    "Histogram of whole-game analysis latencies, labeled by engine.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"engine"},
		)

		engineRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_restarts_total",
				Help: "Total engine process restarts after a crash.",
			},
		)

		queueJobs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_jobs",
				Help: "Current number of queue jobs in each status.",
			},
			[]string{"status"},
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

// ObserveJob increments the job counter for the given outcome.
func ObserveJob(status string) {
	analysisJobsTotal.WithLabelValues(status).Inc()
}

// ObserveAnalysis records one completed game analysis: the number of
// positions the engine searched and the total wall time.
func ObserveAnalysis(engine string, positions int, duration time.Duration) {
	engineEvaluationsTotal.WithLabelValues(engine).Add(float64(positions))
	engineEvaluationDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveEngineRestart increments the engine restart counter.
func ObserveEngineRestart() {
	engineRestartsTotal.Inc()
}

// SetQueueDepth updates the queue gauge for one status.
func SetQueueDepth(status string, n int) {
	queueJobs.WithLabelValues(status).Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
