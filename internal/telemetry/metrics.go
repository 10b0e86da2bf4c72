package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// SubmissionsTotal counts submissions by outcome: created, replayed,
	// conflict, rejected, retryable, error.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_submissions_total",
		Help: "Payment submissions by outcome.",
	}, []string{"outcome"})

	ValidationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_validation_failures_total",
		Help: "Field-level validation failures by field and reason code.",
	}, []string{"field", "code"})

	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_outbox_published_total",
		Help: "Settlement handoffs relayed to the broker, by result.",
	}, []string{"result"})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_status_transitions_total",
		Help: "Settlement status updates by target status and result.",
	}, []string{"status", "result"})
)
