// Package metrics registers the Prometheus collectors exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chama_http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chama_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// UpstreamFailures counts failed calls to the identity provider, the
	// chain node and the message broker.
	UpstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chama_upstream_failures_total",
			Help: "Failed calls to external dependencies",
		},
		[]string{"upstream", "operation"},
	)

	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chama_session_tokens_issued_total",
			Help: "Session tokens minted by kind",
		},
		[]string{"kind"},
	)

	NotificationsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chama_notifications_consumed_total",
			Help: "Queue messages handled by the notification consumer",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequest records one finished request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordUpstreamFailure(upstream, operation string) {
	UpstreamFailures.WithLabelValues(upstream, operation).Inc()
}
