package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fogpulse_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingestion metrics
	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_readings_total",
			Help: "Total number of metric readings pulled by the engine",
		},
		[]string{"status"}, // status: accepted, rejected
	)

	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_readings_rejected_total",
			Help: "Rejected readings by reason",
		},
		[]string{"reason"},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fogpulse_ingest_batch_size",
			Help:    "Size of reading batches received over HTTP",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	IngestBufferDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fogpulse_ingest_buffer_dropped_total",
			Help: "Readings dropped because the ingest buffer was full",
		},
	)

	// Engine metrics
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_verdicts_total",
			Help: "Verdicts produced by tier and severity",
		},
		[]string{"tier", "severity"},
	)

	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_summaries_total",
			Help: "Tier summaries produced by tier and status",
		},
		[]string{"tier", "status"},
	)

	PartialSummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_partial_summaries_total",
			Help: "Summaries produced with missing children",
		},
		[]string{"tier"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_cycles_total",
			Help: "Monitoring cycles run",
		},
		[]string{"result"}, // result: completed, aborted
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fogpulse_cycle_duration_seconds",
			Help:    "Time taken to run one monitoring cycle",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Dispatch metrics
	DispatchReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_dispatch_receipts_total",
			Help: "Dispatch outcomes by envelope kind and status",
		},
		[]string{"kind", "status"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_deliveries_total",
			Help: "Envelopes delivered to subscribers",
		},
		[]string{"subscriber", "status"}, // status: success, failed, dropped
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_delivery_retries_total",
			Help: "Delivery retries per subscriber",
		},
		[]string{"subscriber"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fogpulse_delivery_duration_seconds",
			Help:    "Time taken by a single subscriber delivery",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fogpulse_subscriber_queue_depth",
			Help: "Envelopes waiting in a subscriber queue",
		},
		[]string{"subscriber"},
	)

	// Sink metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fogpulse_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fogpulse_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaReadingsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_kafka_readings_consumed_total",
			Help: "Readings consumed from Kafka",
		},
		[]string{"status"}, // status: decoded, malformed
	)

	NATSPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_nats_publish_total",
			Help: "Envelopes published to NATS",
		},
		[]string{"status"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fogpulse_websocket_clients",
			Help: "Connected dashboard clients",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpulse_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
