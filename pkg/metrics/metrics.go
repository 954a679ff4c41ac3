// Package metrics declares the Prometheus collectors the pipeline
// coordinator updates as messages move through it, grounded on the
// other_examples WhatsApp message-service's promauto-registered
// CounterVec/HistogramVec/Gauge trio.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed counts every message the coordinator finishes
	// handling, labeled by its terminal status.
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_processed_total",
			Help: "Total number of inbound messages processed, by terminal status.",
		},
		[]string{"status"},
	)

	// ProcessingDuration tracks wall-clock time spent in each named
	// pipeline stage.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_message_processing_duration_seconds",
			Help:    "Duration of pipeline stage execution in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// ActiveContactsInFlight is the number of contacts currently being
	// processed by the pipeline's worker pool.
	ActiveContactsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_contacts_in_flight",
			Help: "Number of contacts with a message currently in the pipeline.",
		},
	)
)

// Snapshot is the payload published on events.KindMetricsUpdate: a
// cheap, serializable view an operator surface can render without
// scraping the /metrics endpoint itself. The pipeline coordinator
// maintains the counts in Snapshot alongside (not derived from) the
// Prometheus collectors above, since reading a value back out of a
// CounterVec requires the protobuf-based Write API and isn't worth
// the indirection for a handful of counters the caller already knows.
type Snapshot struct {
	ProcessedByStatus map[string]int64 `json:"processedByStatus"`
	ActiveInFlight    int64            `json:"activeInFlight"`
}
