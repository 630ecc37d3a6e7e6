package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "cmdlog"

var (
	// AppendedEntriesTotal counts entries accepted by command log writers
	AppendedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "appended_entries_total",
		Help:      "Number of log entries appended to command logs",
	})

	// FlushesTotal counts durable flushes partitioned by outcome ("ok" or "error")
	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "flushes_total",
		Help:      "Number of command log flushes partitioned by result",
	}, []string{"result"})

	// FlushDuration stores the time spent writing and syncing on each flush
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "flush_duration_seconds",
		Help:      "Time taken to write and fsync pending command log data",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	// BlockCompressedBytes stores the compressed size of each group commit block
	BlockCompressedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "block_compressed_bytes",
		Help:      "Compressed size of group commit blocks",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
	})

	// BytesWrittenTotal counts bytes appended to command log files
	BytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bytes_written_total",
		Help:      "Number of bytes appended to command log files",
	})

	// ReplayedEntriesTotal counts entries handed out by replay readers
	ReplayedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replayed_entries_total",
		Help:      "Number of log entries produced during replay",
	})

	// ReplayTailStopsTotal counts replays that ended on a damaged tail,
	// partitioned by the kind of damage
	ReplayTailStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replay_tail_stops_total",
		Help:      "Number of replays that stopped at a truncated or corrupt tail",
	}, []string{"cause"})

	// TotalDiskUsageBytes stores the disk usage of the command log directory
	TotalDiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "total_disk_usage_bytes",
		Help:      "Disk usage of the command log root directory",
	})
)
