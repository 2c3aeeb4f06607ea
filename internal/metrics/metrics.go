// Package metrics provides Prometheus metrics for hamsterdb
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for hamsterdb
type Metrics struct {
	// Environment-level operation metrics
	EnvOperationsTotal   *prometheus.CounterVec
	EnvOperationDuration *prometheus.HistogramVec

	// Page cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CachePagesTotal  prometheus.Gauge

	// WAL metrics
	WalAppendsTotal     prometheus.Counter
	WalFsyncDuration    prometheus.Histogram
	WalBytesWritten     prometheus.Counter
	WalRotationsTotal   prometheus.Counter
	CheckpointsTotal    prometheus.Counter
	RecoveryTxnsUndone  prometheus.Counter
	RecoveryTxnsApplied prometheus.Counter

	// B-tree metrics
	BtreeSplitsTotal prometheus.Counter
	BtreeMergesTotal prometheus.Counter

	// Freelist metrics
	FreelistExtentsTotal prometheus.Gauge
	FreelistPagesFreed   prometheus.Counter
	FreelistPagesReused  prometheus.Counter

	// Transaction metrics
	TxnCommitsTotal   prometheus.Counter
	TxnAbortsTotal    prometheus.Counter
	TxnConflictsTotal prometheus.Counter
	TxnActiveGauge    prometheus.Gauge

	// Blob metrics
	BlobAllocationsTotal prometheus.Counter
	BlobBytesStored      prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.EnvOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hamsterdb_env_operations_total",
			Help: "Total number of environment-level operations (open, close, flush, rename, erase)",
		},
		[]string{"operation", "status"},
	)

	m.EnvOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hamsterdb_env_operation_duration_seconds",
			Help:    "Duration of environment-level operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_cache_hits_total",
		Help: "Total number of page cache hits",
	})
	m.CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_cache_misses_total",
		Help: "Total number of page cache misses",
	})
	m.CachePagesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hamsterdb_cache_pages",
		Help: "Number of pages currently resident in the page cache",
	})

	m.WalAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_wal_appends_total",
		Help: "Total number of write-ahead log entries appended",
	})
	m.WalFsyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hamsterdb_wal_fsync_duration_seconds",
		Help:    "Duration of write-ahead log fsync calls",
		Buckets: prometheus.DefBuckets,
	})
	m.WalBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_wal_bytes_written_total",
		Help: "Total bytes written to the write-ahead log",
	})
	m.WalRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_wal_rotations_total",
		Help: "Total number of write-ahead log file rotations",
	})
	m.CheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_checkpoints_total",
		Help: "Total number of checkpoints taken",
	})
	m.RecoveryTxnsUndone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_recovery_txns_undone_total",
		Help: "Total number of transactions rolled back during recovery",
	})
	m.RecoveryTxnsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_recovery_txns_applied_total",
		Help: "Total number of committed transactions replayed during recovery",
	})

	m.BtreeSplitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_btree_splits_total",
		Help: "Total number of B-tree node splits",
	})
	m.BtreeMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_btree_merges_total",
		Help: "Total number of B-tree node merges",
	})

	m.FreelistExtentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hamsterdb_freelist_extents",
		Help: "Number of free extents tracked by the freelist",
	})
	m.FreelistPagesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_freelist_pages_freed_total",
		Help: "Total number of pages returned to the freelist",
	})
	m.FreelistPagesReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_freelist_pages_reused_total",
		Help: "Total number of pages reused from the freelist",
	})

	m.TxnCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_txn_commits_total",
		Help: "Total number of committed transactions",
	})
	m.TxnAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_txn_aborts_total",
		Help: "Total number of aborted transactions",
	})
	m.TxnConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_txn_conflicts_total",
		Help: "Total number of write-write conflicts detected at commit",
	})
	m.TxnActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hamsterdb_txn_active",
		Help: "Number of currently active transactions",
	})

	m.BlobAllocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_blob_allocations_total",
		Help: "Total number of BLOB allocations",
	})
	m.BlobBytesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hamsterdb_blob_bytes_stored_total",
		Help: "Total bytes stored in BLOBs",
	})

	m.ServerUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hamsterdb_uptime_seconds",
		Help: "Process uptime in seconds",
	})

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordEnvOperation records an environment-level operation
func (m *Metrics) RecordEnvOperation(operation string, status string, duration time.Duration) {
	m.EnvOperationsTotal.WithLabelValues(operation, status).Inc()
	m.EnvOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheLookup records a page cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// RecordTxnOutcome records whether a transaction committed, aborted, or
// hit a write-write conflict at commit time.
func (m *Metrics) RecordTxnOutcome(committed bool, conflict bool) {
	if conflict {
		m.TxnConflictsTotal.Inc()
	}
	if committed {
		m.TxnCommitsTotal.Inc()
	} else {
		m.TxnAbortsTotal.Inc()
	}
}
