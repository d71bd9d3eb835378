package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_ingested_total",
			Help: "Total number of raw events accepted by the sequencer",
		},
		[]string{"source"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_dropped_total",
			Help: "Total number of raw events dropped before processing",
		},
		[]string{"reason"},
	)

	EventsLate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_events_late_total",
			Help: "Events released after a newer event had already been released",
		},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_processed_total",
			Help: "Total number of normalized events handled by the engine",
		},
		[]string{"kind"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_event_processing_duration_seconds",
			Help:    "Time taken to handle one event, including trust evaluation",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	IngressQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_ingress_queue_depth",
			Help: "Events buffered in the sequencer ring and reorder window",
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_generated_total",
			Help: "Total number of alerts emitted",
		},
		[]string{"kind"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_suppressed_total",
			Help: "Alerts withheld by the suppression window",
		},
	)

	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_dropped_total",
			Help: "Alerts dropped because the dispatcher queue was full",
		},
	)

	SinkDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sink_deliveries_total",
			Help: "Alerts successfully written by a sink",
		},
		[]string{"sink"},
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sink_failures_total",
			Help: "Alerts a sink failed to write after all retries",
		},
		[]string{"sink"},
	)

	SinkCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_sink_circuit_open",
			Help: "1 while the sink circuit breaker is open",
		},
		[]string{"sink"},
	)

	NotificationsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_throttled_total",
			Help: "Desktop notifications skipped by the per-pid gate or global rate cap",
		},
		[]string{"reason"},
	)

	DeadLetterInsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_dead_letter_insert_failures_total",
			Help: "Total number of dead letter insertion failures",
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_worker_pool_active_workers",
			Help: "Running workers per pool (-1 after a timed out shutdown)",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_worker_pool_queue_size",
			Help: "Tasks waiting in the worker pool queue",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_worker_pool_tasks_processed_total",
			Help: "Tasks completed by the worker pool",
		},
		[]string{"pool"},
	)

	GoroutinePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_goroutine_panics_total",
			Help: "Panics recovered in background goroutines",
		},
		[]string{"goroutine"},
	)
)
