// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionRunsTotal tracks resolution runs by status
	ResolutionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolution",
			Name:      "runs_total",
			Help:      "Total number of resolution runs by status",
		},
		[]string{"status"},
	)

	// ResolutionRunDuration tracks resolution run duration in seconds
	ResolutionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "resolution",
			Name:      "run_duration_seconds",
			Help:      "Duration of resolution runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// RecordsProcessed tracks source records submitted to resolution
	RecordsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolution",
			Name:      "records_total",
			Help:      "Total number of source records resolved",
		},
	)

	// Comparisons tracks pairwise comparisons implied by blocking
	Comparisons = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "comparisons_total",
			Help:      "Total number of pairwise record comparisons",
		},
	)

	// CandidatesTotal tracks emitted match candidates
	CandidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "candidates_total",
			Help:      "Total number of match candidates emitted",
		},
	)

	// GoldenRecordsTotal tracks created golden records
	GoldenRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merging",
			Name:      "golden_records_total",
			Help:      "Total number of golden records created",
		},
	)

	// ChainedClustersTotal tracks clusters containing transitively joined members
	ChainedClustersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "clustering",
			Name:      "chained_clusters_total",
			Help:      "Total number of clusters with members never matched directly",
		},
	)

	// SinkWritesTotal tracks result hand-offs to sinks
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Total number of result writes by sink and status",
		},
		[]string{"sink", "status"},
	)

	// KafkaMessagesPublished tracks messages published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaBatchesConsumed tracks record batches consumed from Kafka
	KafkaBatchesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "batches_consumed_total",
			Help:      "Total number of record batches consumed from Kafka",
		},
		[]string{"status"},
	)
)

// RecordRun records a finished resolution run
func RecordRun(status string, durationSeconds float64) {
	ResolutionRunsTotal.WithLabelValues(status).Inc()
	ResolutionRunDuration.Observe(durationSeconds)
}

// RecordSinkWrite records a sink write
func RecordSinkWrite(sink, status string) {
	SinkWritesTotal.WithLabelValues(sink, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, count int) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Add(float64(count))
}

// RecordKafkaBatch records a consumed record batch
func RecordKafkaBatch(status string) {
	KafkaBatchesConsumed.WithLabelValues(status).Inc()
}
