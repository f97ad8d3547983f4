// Package monitoring exposes Prometheus metrics for the HTTP surface
// and the exam-specific counters (generations, lock conflicts, live
// events).
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	GenerationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "student_exam_generation_runs_total",
			Help: "Student exam generation runs by outcome",
		},
		[]string{"outcome"},
	)

	AssessmentLockConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_lock_conflicts_total",
			Help: "Assessment lock acquisitions rejected because another tutor holds the lock",
		},
	)

	LiveEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_live_events_published_total",
			Help: "Live events published to exam channels by type",
		},
		[]string{"type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(GenerationRuns)
	prometheus.MustRegister(AssessmentLockConflicts)
	prometheus.MustRegister(LiveEventsPublished)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
