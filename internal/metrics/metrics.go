// Package metrics exposes Prometheus collectors for the contact sync service.
package metrics

import (
	"net/http"
	"strconv"
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

	webhookSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactsync_webhook_submissions_total",
			Help: "Webhook submissions, labeled by outcome (ok, ignored, error).",
		},
		[]string{"status"},
	)

	reconcileContactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactsync_reconcile_contacts_total",
			Help: "Contacts visited by reconciliation runs, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileRunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contactsync_reconcile_run_duration_seconds",
			Help:    "Duration of reconciliation runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	directoryCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactsync_directory_calls_total",
			Help: "Outbound CRM calls, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	directoryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactsync_directory_retries_total",
			Help: "Retried outbound CRM calls, labeled by operation.",
		},
		[]string{"operation"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactsync_notifications_total",
			Help: "Notification attempts, labeled by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWebhook counts a handled webhook submission.
func ObserveWebhook(status string) {
	webhookSubmissionsTotal.WithLabelValues(status).Inc()
}

// ObserveReconcileContact counts one contact outcome within a reconciliation run.
func ObserveReconcileContact(outcome string) {
	reconcileContactsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReconcileRun records the duration of a finished run.
func ObserveReconcileRun(duration time.Duration) {
	reconcileRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveDirectoryCall counts an outbound CRM call.
func ObserveDirectoryCall(operation, outcome string) {
	directoryCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveDirectoryRetry counts a retried CRM call.
func ObserveDirectoryRetry(operation string) {
	directoryRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(channel, outcome string) {
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
}
