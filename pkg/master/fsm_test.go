package master

import (
	"testing"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCmd(t *testing.T, f *FSM, data []byte) interface{} {
	t.Helper()
	return f.Apply(&raft.Log{Data: data})
}

func TestFSMAllocateTIDMonotonic(t *testing.T) {
	f := NewFSM(4, 1)

	var last ids.TID
	for i := 0; i < 5; i++ {
		result := applyCmd(t, f, EncodeAllocateTID(ids.ZeroTID))
		tid, ok := result.(ids.TID)
		require.True(t, ok)
		assert.Greater(t, tid, last)
		last = tid
	}
	assert.Equal(t, last, f.LastTID())
}

func TestFSMAllocateTIDHonorsProposedFloor(t *testing.T) {
	f := NewFSM(4, 1)

	floor := ids.TID(1 << 40)
	result := applyCmd(t, f, EncodeAllocateTID(floor))
	tid, ok := result.(ids.TID)
	require.True(t, ok)
	assert.Greater(t, tid, floor)
}

func TestFSMAllocateOIDsSequential(t *testing.T) {
	f := NewFSM(4, 1)

	result := applyCmd(t, f, EncodeAllocateOIDs(3))
	allocated, ok := result.(allocateOIDsResult)
	require.True(t, ok)
	require.Len(t, allocated.OIDs, 3)
	assert.Equal(t, allocated.OIDs[0]+1, allocated.OIDs[1])
	assert.Equal(t, allocated.OIDs[1]+1, allocated.OIDs[2])

	result = applyCmd(t, f, EncodeAllocateOIDs(1))
	next, ok := result.(allocateOIDsResult)
	require.True(t, ok)
	assert.Equal(t, allocated.OIDs[2]+1, next.OIDs[0])
}

func TestFSMBeginFinishTransactionTracksInFlight(t *testing.T) {
	f := NewFSM(4, 1)

	tid := ids.TID(100)
	applyCmd(t, f, EncodeBeginTransaction(tid))
	assert.Contains(t, f.InFlightTIDs(), tid)

	applyCmd(t, f, EncodeFinishTransaction(tid))
	assert.NotContains(t, f.InFlightTIDs(), tid)
}

func TestFSMAbortTransactionClearsInFlight(t *testing.T) {
	f := NewFSM(4, 1)

	tid := ids.TID(100)
	applyCmd(t, f, EncodeBeginTransaction(tid))
	applyCmd(t, f, EncodeAbortTransaction(tid))
	assert.NotContains(t, f.InFlightTIDs(), tid)
}

func TestFSMPartitionUpdateRejectsStalePTID(t *testing.T) {
	f := NewFSM(2, 1)

	result := applyCmd(t, f, EncodePartitionUpdate(1, []cluster.CellChange{{Partition: 0, Node: 1, State: cluster.CellUpToDate}}))
	assert.Nil(t, result)
	assert.Equal(t, ids.PTID(1), f.PartitionTable().PTID())

	result = applyCmd(t, f, EncodePartitionUpdate(1, []cluster.CellChange{{Partition: 1, Node: 2, State: cluster.CellUpToDate}}))
	assert.Error(t, result.(error))
	assert.Equal(t, ids.PTID(1), f.PartitionTable().PTID())
}

func TestFSMPartitionUpdateDemotesCell(t *testing.T) {
	f := NewFSM(2, 1)

	applyCmd(t, f, EncodePartitionUpdate(1, []cluster.CellChange{
		{Partition: 0, Node: 1, State: cluster.CellUpToDate},
		{Partition: 0, Node: 2, State: cluster.CellUpToDate},
	}))

	result := applyCmd(t, f, EncodePartitionUpdate(2, []cluster.CellChange{{Partition: 0, Node: 2, State: cluster.CellOutOfDate}}))
	assert.Nil(t, result)

	cells := f.PartitionTable().CellsForPartition(0, false, true)
	var node2State cluster.CellState
	for _, c := range cells {
		if c.Node == 2 {
			node2State = c.State
		}
	}
	assert.Equal(t, cluster.CellOutOfDate, node2State)
}

func TestFSMSetNodeState(t *testing.T) {
	f := NewFSM(1, 1)
	f.Nodes().Upsert(cluster.Node{UUID: 5, State: 0})

	applyCmd(t, f, EncodeSetNodeState(5, uint8(1)))
	n, ok := f.Nodes().ByUUID(5)
	require.True(t, ok)
	assert.EqualValues(t, 1, n.State)
}
