package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages pulled into the local mirror per folder sync.
	MessagesSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_messages_synced_total",
			Help: "Total number of remote messages mirrored locally",
		},
		[]string{"folder"},
	)

	// Per-message parse failures during sync.
	SyncParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_sync_parse_errors_total",
			Help: "Total number of messages that failed to parse during sync",
		},
		[]string{"folder"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_sync_duration_seconds",
			Help:    "Folder sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"folder"},
	)

	// Outbox dispatch outcomes: sent, retried, failed.
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_outcomes_total",
			Help: "Total outbox dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	DispatchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_dispatch_batch_size",
			Help:    "Number of due entries claimed per dispatcher tick",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	TransmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_transmit_duration_seconds",
			Help:    "SMTP transmission duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"status"},
	)
)

// RecordSync records the result of one folder sync.
func RecordSync(folder string, synced, parseErrors int, duration time.Duration) {
	MessagesSynced.WithLabelValues(folder).Add(float64(synced))
	SyncParseErrors.WithLabelValues(folder).Add(float64(parseErrors))
	SyncDuration.WithLabelValues(folder).Observe(duration.Seconds())
}

// RecordDispatch records the outcome of one outbox entry dispatch.
func RecordDispatch(outcome string) {
	DispatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordTransmit records an SMTP transmission attempt.
func RecordTransmit(status string, duration time.Duration) {
	TransmitDuration.WithLabelValues(status).Observe(duration.Seconds())
}
