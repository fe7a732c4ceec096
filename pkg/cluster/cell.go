package cluster

import "github.com/cuemby/neo/pkg/ids"

// CellState mirrors proto.CellState for use in the in-memory partition
// table so callers outside pkg/proto don't need to import wire types for
// plain state comparisons.
type CellState uint8

const (
	CellUpToDate CellState = iota
	CellOutOfDate
	CellFeeding
	CellDiscarded
)

func (s CellState) String() string {
	switch s {
	case CellUpToDate:
		return "UP_TO_DATE"
	case CellOutOfDate:
		return "OUT_OF_DATE"
	case CellFeeding:
		return "FEEDING"
	case CellDiscarded:
		return "DISCARDED"
	default:
		return "UNKNOWN"
	}
}

// Cell is one (node, state) pair for one partition.
type Cell struct {
	Node  ids.UUID
	State CellState
}

// readableStates holds exactly the states a client or replicator may read a
// partition's data from: an up-to-date cell, or a feeding one mid-recovery
// that is still serving reads from its prior up-to-date data.
var readableStates = map[CellState]bool{CellUpToDate: true, CellFeeding: true}

// writableStates additionally allows out-of-date cells, which must still
// receive every write so they can catch up once replication completes.
var writableStates = map[CellState]bool{CellUpToDate: true, CellOutOfDate: true, CellFeeding: true}
