package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "events_received_total", Help: "Realtime events received by name"},
		[]string{"event"},
	)
	RecordsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "records_merged_total", Help: "Records applied to local collections"},
		[]string{"collection", "outcome"},
	)
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "records_dropped_total", Help: "Incoming records dropped before merge"},
		[]string{"reason"},
	)
	PollRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "poll_runs_total", Help: "Poll task executions"},
		[]string{"key", "result"},
	)
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "driver_console", Name: "poll_duration_seconds", Help: "Poll fetch latency", Buckets: prometheus.DefBuckets},
		[]string{"key"},
	)
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "job_transitions_total", Help: "Job status transitions applied"},
		[]string{"kind", "to"},
	)
	PaymentVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "payment_verifications_total", Help: "Payment verification polls by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_console", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driver_console",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
