package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neo_nodes_total",
			Help: "Total number of known nodes by type and state",
		},
		[]string{"type", "state"},
	)

	ClusterState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_cluster_state",
			Help: "Current cluster state (0=recovering, 1=verifying, 2=running, 3=stopping)",
		},
	)

	PartitionTableVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_partition_table_ptid",
			Help: "Current partition table version (ptid)",
		},
	)

	PartitionsOperational = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_partitions_operational",
			Help: "Number of partitions with at least one readable cell",
		},
	)

	CellsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neo_cells_total",
			Help: "Total number of cells by state",
		},
		[]string{"state"},
	)

	// Raft metrics (primary-master election and replicated log)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_raft_is_leader",
			Help: "Whether this master holds raft leadership, i.e. is the primary (1) or not (0)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_raft_peers_total",
			Help: "Total number of masters in the raft configuration",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_raft_log_index",
			Help: "Current raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_raft_applied_index",
			Help: "Last applied raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neo_raft_apply_duration_seconds",
			Help:    "Time taken to apply a raft log entry (node upsert, partition update, tid/oid allocation, transaction lifecycle)",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transaction metrics
	TransactionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_transactions_in_flight",
			Help: "Transactions that have begun but not yet finished or aborted",
		},
	)

	TransactionsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neo_transactions_finished_total",
			Help: "Total number of transactions resolved, by outcome",
		},
		[]string{"outcome"}, // committed, aborted, discarded
	)

	TransactionCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neo_transaction_commit_duration_seconds",
			Help:    "End-to-end time from AskBeginTransaction to AnswerTransactionFinished",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neo_store_conflicts_total",
			Help: "Total number of AskStoreObject conflicts observed",
		},
	)

	// Storage metrics
	StoreLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neo_storage_locks_held",
			Help: "Number of per-OID write locks currently held by this storage",
		},
	)

	ObjectBytesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neo_storage_object_bytes_stored_total",
			Help: "Total bytes of object payload written to storage, post-compression",
		},
	)

	ReplicationLagObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neo_replication_lag_objects",
			Help: "Objects remaining to pull during replication, by partition",
		},
		[]string{"partition"},
	)

	// Client metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neo_client_cache_hits_total",
			Help: "Total number of client MVCC cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neo_client_cache_misses_total",
			Help: "Total number of client MVCC cache misses",
		},
	)

	LoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neo_client_load_duration_seconds",
			Help:    "Time taken to resolve an object load, cache hit or miss",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Network metrics
	ConnectionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neo_connections_total",
			Help: "Currently open connections by remote node type",
		},
		[]string{"remote_type"},
	)

	PingTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neo_ping_timeouts_total",
			Help: "Total number of connections closed due to ping timeout",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		ClusterState,
		PartitionTableVersion,
		PartitionsOperational,
		CellsTotal,
		RaftLeader,
		RaftPeers,
		RaftLogIndex,
		RaftAppliedIndex,
		RaftApplyDuration,
		TransactionsInFlight,
		TransactionsFinishedTotal,
		TransactionCommitDuration,
		ConflictsTotal,
		StoreLocksHeld,
		ObjectBytesStoredTotal,
		ReplicationLagObjects,
		CacheHitsTotal,
		CacheMissesTotal,
		LoadDuration,
		ConnectionsTotal,
		PingTimeoutsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later recording to a
// histogram, without forcing callers to thread a start time manually.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer at the current time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a label combination of a
// histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
