package storage

import (
	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
)

// ObjectRow is one persisted revision of one object. Data is populated on
// reads and consumed on writes; DataTID is set instead of Data for an undo
// back-pointer, meaning "this revision is identical to the one committed at
// DataTID" rather than a fresh payload.
type ObjectRow struct {
	OID         ids.OID
	Serial      ids.TID
	Compression bool
	Checksum    uint64
	Data        []byte
	DataTID     ids.TID
}

// TransactionRow is one transaction's commit metadata, recorded once at
// vote time (Temporary=true) and confirmed at finish time (Temporary=false).
type TransactionRow struct {
	TID         ids.TID
	User        string
	Description string
	Extension   []byte
	OIDs        []ids.OID
	Temporary   bool
}

// HistoryEntry is one (tid, size) pair in an object's revision history.
type HistoryEntry struct {
	TID  ids.TID
	Size uint32
}

// Store is the black-box row store every storage node is built on: the
// semantic surface the specification requires of persisted state,
// independent of the backing engine.
type Store interface {
	// GetObject resolves a revision of oid. Exactly one of atTID, beforeTID
	// should be non-zero to pin an exact or newest-before revision; if both
	// are zero the latest revision is returned.
	GetObject(oid ids.OID, atTID, beforeTID ids.TID) (ObjectRow, bool, error)

	// GetLastIDs returns the highest tid, ptid and oid this storage has
	// ever recorded.
	GetLastIDs() (ltid ids.TID, lptid ids.PTID, loid ids.OID, err error)

	// GetTIDList returns the tids of stored transactions, temporary ones
	// included, in ascending order, restricted to the given partitions (all
	// partitions if empty) and sliced to positions [first,last); last == 0
	// means to the end.
	GetTIDList(first, last uint32, partitions []uint32, numPartitions uint32) ([]ids.TID, error)

	GetObjectHistory(oid ids.OID, first, count uint32) ([]HistoryEntry, error)

	// StoreTransaction records a transaction's object rows and metadata.
	// temporary marks a vote-time submission that finish/delete will later
	// resolve.
	StoreTransaction(tid ids.TID, objects []ObjectRow, txn TransactionRow, temporary bool) error

	// FinishTransaction marks a previously-stored transaction as durably
	// committed, clearing its temporary marker.
	FinishTransaction(tid ids.TID) error

	// GetTransaction returns one transaction's commit metadata row, the
	// fetch replication's transaction-metadata phase issues for each TID it
	// learns a peer has but it doesn't.
	GetTransaction(tid ids.TID) (TransactionRow, bool, error)

	// DeleteTransaction discards a transaction's rows entirely (abort, or
	// a verification decision that it never reached a majority).
	DeleteTransaction(tid ids.TID) error

	ChangePartitionTable(ptid ids.PTID, changes []cluster.CellChange) error
	GetPartitionTable() (ids.PTID, map[uint32][]cluster.Cell, error)

	// GetUnfinishedTIDList returns every tid still marked temporary —
	// the set a storage reports to the primary during verification.
	GetUnfinishedTIDList() ([]ids.TID, error)

	// StoreData persists payload content-addressed by checksum, returning
	// a data id later referenced by ObjectRow on write. Storing the same
	// checksum twice is a no-op.
	StoreData(checksum uint64, payload []byte, compression bool) (dataID uint64, err error)
	GetData(dataID uint64) ([]byte, bool, error)

	Close() error
}
