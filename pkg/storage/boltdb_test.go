package storage

import (
	"testing"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreGetObjectExactAndLatest(t *testing.T) {
	store := newTestStore(t)
	oid := ids.OID(1)

	v1 := ObjectRow{OID: oid, Serial: ids.TID(10), Checksum: 111, Data: []byte("v1")}
	v2 := ObjectRow{OID: oid, Serial: ids.TID(20), Checksum: 222, Data: []byte("v2")}
	require.NoError(t, store.StoreTransaction(ids.TID(10), []ObjectRow{v1}, TransactionRow{TID: ids.TID(10), OIDs: []ids.OID{oid}}, false))
	require.NoError(t, store.StoreTransaction(ids.TID(20), []ObjectRow{v2}, TransactionRow{TID: ids.TID(20), OIDs: []ids.OID{oid}}, false))

	row, found, err := store.GetObject(oid, ids.TID(10), ids.ZeroTID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), row.Data)

	latest, found, err := store.GetObject(oid, ids.ZeroTID, ids.ZeroTID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ids.TID(20), latest.Serial)
	assert.Equal(t, []byte("v2"), latest.Data)

	before, found, err := store.GetObject(oid, ids.ZeroTID, ids.TID(20))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ids.TID(10), before.Serial)
}

func TestBoltStoreGetObjectMissing(t *testing.T) {
	store := newTestStore(t)
	_, found, err := store.GetObject(ids.OID(99), ids.ZeroTID, ids.ZeroTID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltStoreContentAddressedDedup(t *testing.T) {
	store := newTestStore(t)
	oid := ids.OID(5)
	payload := []byte("same payload twice")

	v1 := ObjectRow{OID: oid, Serial: ids.TID(1), Checksum: 42, Data: payload}
	v2 := ObjectRow{OID: oid, Serial: ids.TID(2), Checksum: 42, Data: payload}
	require.NoError(t, store.StoreTransaction(ids.TID(1), []ObjectRow{v1}, TransactionRow{TID: ids.TID(1), OIDs: []ids.OID{oid}}, false))
	require.NoError(t, store.StoreTransaction(ids.TID(2), []ObjectRow{v2}, TransactionRow{TID: ids.TID(2), OIDs: []ids.OID{oid}}, false))

	dataID, err := store.StoreData(42, payload, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), dataID)

	data, found, err := store.GetData(42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, data)
}

func TestBoltStoreObjectHistoryPagination(t *testing.T) {
	store := newTestStore(t)
	oid := ids.OID(3)
	for i := uint64(1); i <= 5; i++ {
		row := ObjectRow{OID: oid, Serial: ids.TID(i), Checksum: i, Data: []byte{byte(i)}}
		require.NoError(t, store.StoreTransaction(ids.TID(i), []ObjectRow{row}, TransactionRow{TID: ids.TID(i), OIDs: []ids.OID{oid}}, false))
	}

	all, err := store.GetObjectHistory(oid, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids.TID(5), all[0].TID)
	assert.Equal(t, ids.TID(1), all[4].TID)

	page, err := store.GetObjectHistory(oid, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids.TID(4), page[0].TID)
	assert.Equal(t, ids.TID(3), page[1].TID)
}

func TestBoltStoreTransactionLifecycle(t *testing.T) {
	store := newTestStore(t)
	oid := ids.OID(8)
	tid := ids.TID(100)
	row := ObjectRow{OID: oid, Serial: tid, Checksum: 7, Data: []byte("x")}
	txn := TransactionRow{TID: tid, User: "alice", OIDs: []ids.OID{oid}}

	require.NoError(t, store.StoreTransaction(tid, []ObjectRow{row}, txn, true))

	unfinished, err := store.GetUnfinishedTIDList()
	require.NoError(t, err)
	assert.Contains(t, unfinished, tid)

	require.NoError(t, store.FinishTransaction(tid))
	unfinished, err = store.GetUnfinishedTIDList()
	require.NoError(t, err)
	assert.NotContains(t, unfinished, tid)

	_, found, err := store.GetObject(oid, tid, ids.ZeroTID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBoltStoreDeleteTransactionRemovesObjects(t *testing.T) {
	store := newTestStore(t)
	oid := ids.OID(9)
	tid := ids.TID(200)
	row := ObjectRow{OID: oid, Serial: tid, Checksum: 1, Data: []byte("y")}
	txn := TransactionRow{TID: tid, OIDs: []ids.OID{oid}}
	require.NoError(t, store.StoreTransaction(tid, []ObjectRow{row}, txn, true))

	require.NoError(t, store.DeleteTransaction(tid))

	_, found, err := store.GetObject(oid, tid, ids.ZeroTID)
	require.NoError(t, err)
	assert.False(t, found)

	unfinished, err := store.GetUnfinishedTIDList()
	require.NoError(t, err)
	assert.NotContains(t, unfinished, tid)
}

func TestBoltStorePartitionTableRoundTrip(t *testing.T) {
	store := newTestStore(t)
	changes := []cluster.CellChange{
		{Partition: 0, Node: ids.UUID(1), State: cluster.CellOutOfDate},
		{Partition: 1, Node: ids.UUID(2), State: cluster.CellUpToDate},
	}
	require.NoError(t, store.ChangePartitionTable(ids.PTID(1), changes))

	ptid, rows, err := store.GetPartitionTable()
	require.NoError(t, err)
	assert.Equal(t, ids.PTID(1), ptid)
	require.Len(t, rows[0], 1)
	assert.Equal(t, ids.UUID(1), rows[0][0].Node)
	require.Len(t, rows[1], 1)
	assert.Equal(t, ids.UUID(2), rows[1][0].Node)

	require.NoError(t, store.ChangePartitionTable(ids.PTID(2), []cluster.CellChange{
		{Partition: 0, Node: ids.UUID(1), State: cluster.CellDiscarded},
	}))
	_, rows, err = store.GetPartitionTable()
	require.NoError(t, err)
	assert.Len(t, rows[0], 0)
}

func TestBoltStoreGetLastIDs(t *testing.T) {
	store := newTestStore(t)
	oid := ids.OID(4)
	tid := ids.TID(50)
	row := ObjectRow{OID: oid, Serial: tid, Checksum: 1, Data: []byte("z")}
	require.NoError(t, store.StoreTransaction(tid, []ObjectRow{row}, TransactionRow{TID: tid, OIDs: []ids.OID{oid}}, false))

	ltid, _, loid, err := store.GetLastIDs()
	require.NoError(t, err)
	assert.Equal(t, tid, ltid)
	assert.Equal(t, oid, loid)
}
