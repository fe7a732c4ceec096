/*
Package metrics defines and registers every Prometheus metric the cluster
exposes: node/cell/partition-table gauges, raft leadership and log-index
gauges, transaction and conflict counters, storage-side lock and
replication gauges, and client-side cache hit/miss counters. All metrics
are registered at package init and are safe for concurrent use.

Timer is a small helper that measures an operation's duration without
forcing callers to thread a start time manually:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.TransactionCommitDuration)

Handler returns the promhttp scrape handler for mounting at /metrics.
*/
package metrics
