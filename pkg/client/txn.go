package client

import (
	"fmt"

	"github.com/cuemby/neo/pkg/ids"
)

// ConflictError is returned by Vote when a store conflicted and the
// caller's Resolver (or the default no-op resolver) could not merge it.
type ConflictError struct {
	OID            ids.OID
	AttemptedTID   ids.TID
	BaseSerial     ids.TID
	ConflictSerial ids.TID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("client: conflict on %s: base=%s conflict=%s attempted=%s",
		e.OID, e.BaseSerial, e.ConflictSerial, e.AttemptedTID)
}

// TxnContext is the explicit stand-in for the thread-local transaction
// state the design describes: {tid, data_by_oid, ordered_oids,
// base_serial_by_oid, store_ack_count_by_oid, conflict_serials_by_oid,
// resolved_conflicts_by_oid, voted_flag, barrier_done}. A caller owns one
// TxnContext per logical transaction and must not share it across
// goroutines; Client itself is safe for concurrent use by many
// TxnContexts.
type TxnContext struct {
	tid ids.TID

	orderedOIDs []ids.OID
	data        map[ids.OID][]byte
	baseSerial  map[ids.OID]ids.TID
	ackCount    map[ids.OID]int
	conflicts   map[ids.OID]ids.TID

	voted       bool
	barrierDone bool

	user        string
	description string
	extension   []byte
}

func newTxnContext(tid ids.TID) *TxnContext {
	return &TxnContext{
		tid:        tid,
		data:       make(map[ids.OID][]byte),
		baseSerial: make(map[ids.OID]ids.TID),
		ackCount:   make(map[ids.OID]int),
		conflicts:  make(map[ids.OID]ids.TID),
	}
}

// TID returns the transaction's identifier, allocated at tpc_begin.
func (t *TxnContext) TID() ids.TID { return t.tid }

// SetMetadata records the user/description/extension submitted with
// AskStoreTransaction at vote time.
func (t *TxnContext) SetMetadata(user, description string, extension []byte) {
	t.user, t.description, t.extension = user, description, extension
}

func (t *TxnContext) record(oid ids.OID, baseSerial ids.TID, data []byte) {
	if _, seen := t.data[oid]; !seen {
		t.orderedOIDs = append(t.orderedOIDs, oid)
		t.baseSerial[oid] = baseSerial
	}
	t.data[oid] = data
}
