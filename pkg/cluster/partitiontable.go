package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/neo/pkg/ids"
)

// PartitionTable maps each of NumPartitions partitions to the set of cells
// that hold it. Every mutation bumps PTID; a node that has already applied
// ptid=P must reject (not merely ignore) any update carrying ptid<=P, since
// diffs are only meaningful applied in order.
type PartitionTable struct {
	mu            sync.RWMutex
	ptid          ids.PTID
	numPartitions uint32
	numReplicas   uint32
	cells         map[uint32][]Cell // partition -> cells
}

// NewPartitionTable creates an empty table sized for numPartitions, each
// initially with zero cells (not yet operational).
func NewPartitionTable(numPartitions, numReplicas uint32) *PartitionTable {
	pt := &PartitionTable{
		numPartitions: numPartitions,
		numReplicas:   numReplicas,
		cells:         make(map[uint32][]Cell, numPartitions),
	}
	for p := uint32(0); p < numPartitions; p++ {
		pt.cells[p] = nil
	}
	return pt
}

// PTID returns the table's current version.
func (pt *PartitionTable) PTID() ids.PTID {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.ptid
}

// NumPartitions returns the fixed partition count this table was sized for.
func (pt *PartitionTable) NumPartitions() uint32 {
	return pt.numPartitions
}

// Load replaces the table wholesale with a full snapshot at the given ptid,
// used when a node first connects and receives AnswerPartitionTable rather
// than a diff. Load accepts any ptid, including one lower than the current
// one, since a fresh connection has no prior state to protect.
func (pt *PartitionTable) Load(ptid ids.PTID, rows map[uint32][]Cell) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.ptid = ptid
	pt.cells = make(map[uint32][]Cell, len(rows))
	for p, cs := range rows {
		cp := make([]Cell, len(cs))
		copy(cp, cs)
		pt.cells[p] = cp
	}
}

// CellChange describes one (partition, node, state) mutation in a diff.
type CellChange struct {
	Partition uint32
	Node      ids.UUID
	State     CellState
}

// Update applies a diff carrying a new ptid. It returns an error without
// modifying the table if newPTID <= the table's current ptid — partition
// table versions must be applied in strictly increasing order.
func (pt *PartitionTable) Update(newPTID ids.PTID, changes []CellChange) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if newPTID <= pt.ptid {
		return fmt.Errorf("cluster: stale partition table update ptid=%d, have ptid=%d", newPTID, pt.ptid)
	}
	for _, c := range changes {
		pt.setCellLocked(c.Partition, c.Node, c.State)
	}
	pt.ptid = newPTID
	return nil
}

// SetCell installs or replaces the cell for (partition, node) in a
// table the caller otherwise owns exclusively (the master FSM building a
// new table before committing it). It does not bump ptid; callers call
// Bump once they've applied every change in the batch.
func (pt *PartitionTable) SetCell(partition uint32, node ids.UUID, state CellState) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.setCellLocked(partition, node, state)
}

func (pt *PartitionTable) setCellLocked(partition uint32, node ids.UUID, state CellState) {
	if state == CellDiscarded {
		pt.removeCellLocked(partition, node)
		return
	}
	row := pt.cells[partition]
	for i := range row {
		if row[i].Node == node {
			row[i].State = state
			return
		}
	}
	pt.cells[partition] = append(row, Cell{Node: node, State: state})
}

// RemoveCell discards the cell for (partition, node), if present.
func (pt *PartitionTable) RemoveCell(partition uint32, node ids.UUID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.removeCellLocked(partition, node)
}

func (pt *PartitionTable) removeCellLocked(partition uint32, node ids.UUID) {
	row := pt.cells[partition]
	for i := range row {
		if row[i].Node == node {
			pt.cells[partition] = append(row[:i], row[i+1:]...)
			return
		}
	}
}

// Bump advances the table's ptid after a batch of SetCell/RemoveCell calls
// made directly against a table the caller owns exclusively.
func (pt *PartitionTable) Bump(newPTID ids.PTID) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if newPTID <= pt.ptid {
		return fmt.Errorf("cluster: cannot bump ptid from %d to %d", pt.ptid, newPTID)
	}
	pt.ptid = newPTID
	return nil
}

// CellsForOID returns the cells eligible to serve oid's partition, filtered
// by the requested access: readable cells are up-to-date or feeding;
// writable cells additionally include out-of-date ones so they keep
// receiving writes while they catch up.
func (pt *PartitionTable) CellsForOID(oid ids.OID, readable, writable bool) []Cell {
	partition := ids.PartitionOf(oid, pt.numPartitions)
	return pt.CellsForPartition(partition, readable, writable)
}

// CellsForPartition is CellsForOID without first hashing an OID, for
// callers (replication, verification) that already know the partition.
func (pt *PartitionTable) CellsForPartition(partition uint32, readable, writable bool) []Cell {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	var out []Cell
	for _, c := range pt.cells[partition] {
		if readable && readableStates[c.State] {
			out = append(out, c)
		} else if writable && writableStates[c.State] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Operational reports whether every partition has at least one readable
// cell, the precondition for the cluster state machine to enter RUNNING.
func (pt *PartitionTable) Operational() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	for p := uint32(0); p < pt.numPartitions; p++ {
		ok := false
		for _, c := range pt.cells[p] {
			if readableStates[c.State] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a defensive copy of every partition's cells, keyed by
// partition number, for encoding into AnswerPartitionTable.
func (pt *PartitionTable) Snapshot() (ids.PTID, map[uint32][]Cell) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make(map[uint32][]Cell, len(pt.cells))
	for p, cs := range pt.cells {
		cp := make([]Cell, len(cs))
		copy(cp, cs)
		out[p] = cp
	}
	return pt.ptid, out
}
