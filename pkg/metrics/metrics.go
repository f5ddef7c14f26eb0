// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
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

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations reaching a terminal outcome.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_conversations_total",
			Help: "Conversations by terminal outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// FollowUpsTotal tracks information requests sent to customers.
	FollowUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_follow_ups_total",
			Help: "Information requests sent to customers",
		},
		[]string{"tenant_id"},
	)

	// ExtractionsTotal tracks extraction results by source and intent.
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_extractions_total",
			Help: "Extraction results by source and intent",
		},
		[]string{"source", "intent"},
	)

	// ClassifierDuration tracks LLM classifier call duration.
	ClassifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_classifier_duration_seconds",
			Help:    "LLM classifier call duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)

	// QuotaDecisionsTotal tracks quota gate decisions.
	QuotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_quota_decisions_total",
			Help: "Quota gate decisions by service and reason",
		},
		[]string{"service", "reason"},
	)

	// NotificationsTotal tracks notification dispatch outcomes.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_notifications_total",
			Help: "Notification dispatch outcomes by kind",
		},
		[]string{"kind", "result"},
	)

	// ActionsTotal tracks executed external actions.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_actions_total",
			Help: "External action executions by type and status",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
