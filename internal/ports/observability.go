package ports

import "github.com/ghalamif/TradeReplica/internal/domain"

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64, labels ...string)
	ObserveLatency(name string, seconds float64, labels ...string)

	SetGauge(name string, v float64, labels ...string)

	RecordDeadLetter(sink string, env domain.Envelope, err error)
}

type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Metric names. Label order follows the comment on each name.
const (
	MetricEnqueued          = "replica_envelopes_enqueued_total"    // source
	MetricQueueRejected     = "replica_queue_rejected_total"        // source
	MetricSourceDropped     = "replica_source_events_dropped_total" // source, reason
	MetricSourceReconnects  = "replica_source_reconnects_total"     // source
	MetricSourceConnected   = "replica_source_connected"            // source
	MetricCommits           = "replica_commits_total"               // sink, kind, result
	MetricCommitLatency     = "replica_commit_latency_seconds"      // sink
	MetricSinkConnected     = "replica_sink_connected"              // sink
	MetricSinkReconnects    = "replica_sink_reconnects_total"       // sink
	MetricRetryBuffer       = "replica_retry_buffer_length"         // sink
	MetricDeadLetters       = "replica_dead_letter_total"           // sink
	MetricQueueLength       = "replica_queue_length"
	MetricCoalescePending   = "replica_coalesced_pending"          // kind
	MetricCoalesceOverwrite = "replica_coalesced_overwrites_total" // kind
	MetricFlushLatency      = "replica_flush_latency_seconds"
)
