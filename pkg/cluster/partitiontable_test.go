package cluster

import (
	"testing"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionTableUpdateRejectsStalePTID(t *testing.T) {
	pt := NewPartitionTable(4, 1)
	require.NoError(t, pt.Update(2, []CellChange{{Partition: 0, Node: 1, State: CellUpToDate}}))
	assert.Equal(t, ids.PTID(2), pt.PTID())

	err := pt.Update(2, []CellChange{{Partition: 1, Node: 2, State: CellUpToDate}})
	assert.Error(t, err)
	err = pt.Update(1, []CellChange{{Partition: 1, Node: 2, State: CellUpToDate}})
	assert.Error(t, err)

	// Rejected updates must not have mutated the table.
	assert.Equal(t, ids.PTID(2), pt.PTID())
	assert.Empty(t, pt.CellsForPartition(1, true, false))
}

func TestPartitionTableUpdateAcceptsIncreasingPTID(t *testing.T) {
	pt := NewPartitionTable(2, 1)
	require.NoError(t, pt.Update(1, []CellChange{{Partition: 0, Node: 1, State: CellUpToDate}}))
	require.NoError(t, pt.Update(2, []CellChange{{Partition: 1, Node: 2, State: CellUpToDate}}))
	assert.Equal(t, ids.PTID(2), pt.PTID())
	assert.Len(t, pt.CellsForPartition(0, true, false), 1)
	assert.Len(t, pt.CellsForPartition(1, true, false), 1)
}

func TestCellsForOIDFiltersByAccess(t *testing.T) {
	pt := NewPartitionTable(1, 2)
	require.NoError(t, pt.Update(1, []CellChange{
		{Partition: 0, Node: 1, State: CellUpToDate},
		{Partition: 0, Node: 2, State: CellOutOfDate},
		{Partition: 0, Node: 3, State: CellFeeding},
	}))

	readable := pt.CellsForPartition(0, true, false)
	assert.Len(t, readable, 2) // up-to-date + feeding

	writable := pt.CellsForPartition(0, false, true)
	assert.Len(t, writable, 3) // all three
}

func TestOperationalRequiresEveryPartitionReadable(t *testing.T) {
	pt := NewPartitionTable(2, 1)
	require.NoError(t, pt.Update(1, []CellChange{{Partition: 0, Node: 1, State: CellUpToDate}}))
	assert.False(t, pt.Operational(), "partition 1 has no cells yet")

	require.NoError(t, pt.Update(2, []CellChange{{Partition: 1, Node: 1, State: CellOutOfDate}}))
	assert.False(t, pt.Operational(), "out-of-date alone is not readable")

	require.NoError(t, pt.Update(3, []CellChange{{Partition: 1, Node: 1, State: CellUpToDate}}))
	assert.True(t, pt.Operational())
}

func TestSetCellDiscardedRemovesCell(t *testing.T) {
	pt := NewPartitionTable(1, 1)
	pt.SetCell(0, 1, CellUpToDate)
	require.NoError(t, pt.Bump(1))
	assert.Len(t, pt.CellsForPartition(0, true, true), 1)

	pt.SetCell(0, 1, CellDiscarded)
	require.NoError(t, pt.Bump(2))
	assert.Empty(t, pt.CellsForPartition(0, true, true))
}
