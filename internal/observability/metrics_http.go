// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsQueued is a gauge of jobs currently sitting in the admission queue.
	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_queued",
			Help: "Number of jobs currently queued",
		},
	)
	// JobsRunning is a gauge of jobs currently being executed by a worker.
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently running",
		},
	)
	// JobsCompletedTotal counts jobs that reached a terminal state, by verdict or error.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state, labeled by outcome",
		},
		[]string{"outcome"},
	)
	// JobDuration records wall-clock execution time (started_at to finished_at) in seconds.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	// QueueWaitDuration records the time a job spent queued before a worker picked it up.
	QueueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_wait_seconds",
			Help:    "Time a job spent queued before dispatch, in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsQueued)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(QueueWaitDuration)
}

// MetricsHandler exposes the process registry in the Prometheus exposition
// format, for mounting at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordJobQueued updates the queued-jobs gauge; call with +1 on admission, -1 on dequeue/cancel.
func RecordJobQueued(delta float64) {
	JobsQueued.Add(delta)
}

// RecordJobRunning updates the running-jobs gauge; call with +1 on dispatch, -1 on completion.
func RecordJobRunning(delta float64) {
	JobsRunning.Add(delta)
}

// RecordJobTerminal records a job reaching DONE or ERROR, its wall duration, and its queue wait.
func RecordJobTerminal(outcome string, duration, queueWait time.Duration) {
	JobsCompletedTotal.WithLabelValues(outcome).Inc()
	JobDuration.Observe(duration.Seconds())
	if queueWait >= 0 {
		QueueWaitDuration.Observe(queueWait.Seconds())
	}
}
