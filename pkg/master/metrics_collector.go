package master

import (
	"time"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/metrics"
)

// MetricsCollector periodically samples FSM and raft state into the
// package-level Prometheus gauges, rather than updating them inline at
// every mutation site.
type MetricsCollector struct {
	fsm   *FSM
	elect *Election
	coord *Coordinator

	stopCh chan struct{}
}

// NewMetricsCollector wires a collector to the master components it samples.
func NewMetricsCollector(fsm *FSM, elect *Election, coord *Coordinator) *MetricsCollector {
	return &MetricsCollector{fsm: fsm, elect: elect, coord: coord, stopCh: make(chan struct{})}
}

// Start begins periodic collection at the given interval. Call Stop to end it.
func (c *MetricsCollector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends periodic collection.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectNodeMetrics()
	c.collectPartitionMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectNodeMetrics() {
	type key struct{ typ, state string }
	counts := make(map[key]int)
	for _, n := range c.fsm.Nodes().All() {
		counts[key{n.Type.String(), n.State.String()}]++
	}
	metrics.NodesTotal.Reset()
	for k, count := range counts {
		metrics.NodesTotal.WithLabelValues(k.typ, k.state).Set(float64(count))
	}
}

func (c *MetricsCollector) collectPartitionMetrics() {
	metrics.ClusterState.Set(float64(c.fsm.ClusterState().Current()))

	ptid, rows := c.fsm.PartitionTable().Snapshot()
	metrics.PartitionTableVersion.Set(float64(ptid))

	cellCounts := make(map[cluster.CellState]int)
	for _, cells := range rows {
		for _, cell := range cells {
			cellCounts[cell.State]++
		}
	}
	metrics.CellsTotal.Reset()
	for state, count := range cellCounts {
		metrics.CellsTotal.WithLabelValues(state.String()).Set(float64(count))
	}

	pt := c.fsm.PartitionTable()
	operational := 0
	for p := uint32(0); p < pt.NumPartitions(); p++ {
		if len(pt.CellsForPartition(p, true, false)) > 0 {
			operational++
		}
	}
	metrics.PartitionsOperational.Set(float64(operational))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.elect.IsPrimary() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	metrics.RaftPeers.Set(float64(c.elect.Peers()))
	metrics.RaftLogIndex.Set(float64(c.elect.LastIndex()))
	metrics.RaftAppliedIndex.Set(float64(c.elect.AppliedIndex()))
}
