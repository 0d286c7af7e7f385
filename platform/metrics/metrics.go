// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// WebhookOutcomes counts post-call webhook results by status and action.
	WebhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_webhook_outcomes_total",
			Help: "Post-call webhook results",
		},
		[]string{"status", "action"},
	)

	// ProviderFetchDuration tracks conversation detail fetches from the voice provider.
	ProviderFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voice_provider_fetch_duration_seconds",
			Help:    "Voice provider conversation fetch duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"status"},
	)

	// SignatureFailures counts webhook signature verification failures.
	SignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_webhook_signature_failures_total",
			Help: "Webhook signature verification failures",
		},
		[]string{"reason", "enforced"},
	)

	// DateFallbacks counts bookings scheduled on the fallback slot.
	DateFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_booking_date_fallbacks_total",
			Help: "Bookings whose requested date could not be parsed",
		},
	)
)

// Middleware records request duration per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
