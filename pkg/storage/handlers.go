package storage

import (
	"context"
	"fmt"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
)

// Server is a storage node's packet-handling face: object reads, the
// AskStoreObject/AskStoreTransaction/LockInformation/NotifyUnlockInformation
// write path, and the AskLastIDs/AskUnfinishedTransactions/
// DeleteTransaction/CommitTransaction surface the primary drives during
// verification.
type Server struct {
	store Store
	locks *Locks
	life  *Lifecycle

	clusterName   string
	self          cluster.Node
	numPartitions uint32
	log           zerolog.Logger
}

// NewServer wires a storage node's handler set to its store and lock table.
func NewServer(store Store, locks *Locks, life *Lifecycle, clusterName string, self cluster.Node, numPartitions uint32, log zerolog.Logger) *Server {
	return &Server{store: store, locks: locks, life: life, clusterName: clusterName, self: self, numPartitions: numPartitions, log: log}
}

// Handlers returns the HandlerSet a storage node installs on every accepted
// connection; it includes the RequestIdentification handler.
func (s *Server) Handlers() network.HandlerSet {
	return network.HandlerSet{
		proto.TRequestIdentification:     s.handleRequestIdentification,
		proto.TAskObject:                 s.handleAskObject,
		proto.TAskObjectHistory:          s.handleAskObjectHistory,
		proto.TAskHasLock:                s.handleAskHasLock,
		proto.TAskStoreObject:            s.handleAskStoreObject,
		proto.TAskStoreTransaction:       s.handleAskStoreTransaction,
		proto.TAskCheckCurrentSerial:     s.handleAskCheckCurrentSerial,
		proto.TAskFinishTransaction:      s.handleAskFinishTransaction,
		proto.TLockInformation:           s.handleLockInformation,
		proto.TNotifyUnlockInformation:   s.handleNotifyUnlockInformation,
		proto.TAbortTransaction:          s.handleAbortTransaction,
		proto.TAskLastIDs:                s.handleAskLastIDs,
		proto.TAskTIDs:                   s.handleAskTIDs,
		proto.TAskTransaction:            s.handleAskTransaction,
		proto.TAskUnfinishedTransactions: s.handleAskUnfinishedTransactions,
		proto.TDeleteTransaction:         s.handleDeleteTransaction,
		proto.TCommitTransaction:         s.handleCommitTransaction,
		proto.TAskPack:                   s.handleAskPack,
		proto.TNotifyPartitionChanges:    s.handleNotifyPartitionChanges,
	}
}

func (s *Server) handleRequestIdentification(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.RequestIdentificationBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	if body.ClusterName != s.clusterName {
		_ = req.Fail(proto.ECProtocolError, "cluster name mismatch")
		return
	}
	_ = req.Reply(proto.TAcceptIdentification, &proto.AcceptIdentificationBody{
		YourUUID:      body.UUID,
		MyUUID:        uint64(s.self.UUID),
		MyNodeType:    proto.NodeTypeStorage,
		NumPartitions: s.numPartitions,
		NumReplicas:   0,
	})
}

func (s *Server) handleAskObject(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskObjectBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	row, found, err := s.store.GetObject(ids.OID(body.OID), ids.TID(body.ExactTID), ids.TID(body.BeforeTID))
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	if !found {
		_ = req.Fail(proto.ECOidNotFound, "object not found")
		return
	}
	_ = req.Reply(proto.TAnswerObject, &proto.AnswerObjectBody{
		OID:         uint64(row.OID),
		Serial:      uint64(row.Serial),
		Compression: row.Compression,
		Checksum:    row.Checksum,
		Data:        row.Data,
		DataTID:     uint64(row.DataTID),
	})
}

func (s *Server) handleAskObjectHistory(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskObjectHistoryBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	history, err := s.store.GetObjectHistory(ids.OID(body.OID), body.FirstOffset, body.Count)
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	out := make([]proto.HistoryEntry, len(history))
	for i, h := range history {
		out[i] = proto.HistoryEntry{TID: uint64(h.TID), Size: h.Size}
	}
	_ = req.Reply(proto.TAnswerObjectHistory, &proto.AnswerObjectHistoryBody{OID: body.OID, History: out})
}

func (s *Server) handleAskHasLock(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskHasLockBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	locked := s.locks.HasLock(ids.OID(body.OID), ids.TID(body.TID))
	_ = req.Reply(proto.TAnswerHasLock, &proto.AnswerHasLockBody{Locked: locked})
}

// handleAskStoreObject implements the per-OID store_lock and conflict
// semantics: a delayed second writer is answered conflicting once the first
// writer resolves, rather than refused outright.
func (s *Server) handleAskStoreObject(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskStoreObjectBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	oid, tid := ids.OID(body.OID), ids.TID(body.TID)

	conflict, conflictSerial, err := s.locks.Acquire(ctx, oid, tid)
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	if conflict {
		_ = req.Reply(proto.TAnswerStoreObject, &proto.AnswerStoreObjectBody{OID: body.OID, Conflicting: true, ConflictSerial: uint64(conflictSerial)})
		return
	}

	row := ObjectRow{
		OID:         oid,
		Serial:      tid,
		Compression: body.Compression,
		Checksum:    body.Checksum,
		Data:        body.Data,
		DataTID:     ids.TID(body.DataTID),
	}
	txn := TransactionRow{TID: tid, OIDs: []ids.OID{oid}}
	if err := s.store.StoreTransaction(tid, []ObjectRow{row}, txn, true); err != nil {
		s.locks.Release(oid, tid, false)
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	_ = req.Reply(proto.TAnswerStoreObject, &proto.AnswerStoreObjectBody{OID: body.OID})
}

func (s *Server) handleAskStoreTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskStoreTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	oids := make([]ids.OID, len(body.OIDs))
	for i, o := range body.OIDs {
		oids[i] = ids.OID(o)
	}
	txn := TransactionRow{TID: ids.TID(body.TID), User: body.User, Description: body.Description, Extension: body.Extension, OIDs: oids}
	if err := s.store.StoreTransaction(ids.TID(body.TID), nil, txn, true); err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	_ = req.Reply(proto.TAnswerStoreTransaction, &proto.AnswerStoreTransactionBody{TID: body.TID})
}

// handleAskCheckCurrentSerial implements the read-with-verify commit path:
// confirming the serial the client observed is still current, without
// storing a new object row.
func (s *Server) handleAskCheckCurrentSerial(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskCheckCurrentSerialBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	current, found, err := s.store.GetObject(ids.OID(body.OID), ids.ZeroTID, ids.ZeroTID)
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	if found && current.Serial != ids.TID(body.SerialRead) {
		_ = req.Reply(proto.TAnswerCheckCurrentSerial, &proto.AnswerCheckCurrentSerialBody{OID: body.OID, Conflicting: true, ConflictSerial: uint64(current.Serial)})
		return
	}
	_ = req.Reply(proto.TAnswerCheckCurrentSerial, &proto.AnswerCheckCurrentSerialBody{OID: body.OID})
}

// handleAskFinishTransaction exists on a storage purely to answer a direct
// poll; the master drives the authoritative finish via
// LockInformation/NotifyUnlockInformation instead.
func (s *Server) handleAskFinishTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskFinishTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	_ = req.Reply(proto.TAnswerTransactionFinished, &proto.AnswerTransactionFinishedBody{TID: body.TID})
}

func (s *Server) handleLockInformation(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.LockInformationBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	_ = req.Reply(proto.TInformationLocked, &proto.InformationLockedBody{TID: body.TID})
}

func (s *Server) handleNotifyUnlockInformation(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.NotifyUnlockInformationBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		return
	}
	tid := ids.TID(body.TID)
	if err := s.store.FinishTransaction(tid); err != nil {
		s.log.Warn().Err(err).Str("tid", tid.String()).Msg("finish transaction failed")
	}
	s.locks.ReleaseAll(tid, true)
}

func (s *Server) handleAbortTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AbortTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		return
	}
	tid := ids.TID(body.TID)
	if err := s.store.DeleteTransaction(tid); err != nil {
		s.log.Warn().Err(err).Str("tid", tid.String()).Msg("abort transaction failed")
	}
	s.locks.ReleaseAll(tid, false)
}

func (s *Server) handleAskLastIDs(ctx context.Context, conn *network.Connection, req *network.Request) {
	ltid, lptid, loid, err := s.store.GetLastIDs()
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	_ = req.Reply(proto.TAnswerLastIDs, &proto.AnswerLastIDsBody{LastTID: uint64(ltid), LastPTID: uint64(lptid), LastOID: uint64(loid)})
}

func (s *Server) handleAskTIDs(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskTIDsBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	tids, err := s.store.GetTIDList(body.First, body.Last, body.Partitions, s.numPartitions)
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	out := make([]uint64, len(tids))
	for i, t := range tids {
		out[i] = uint64(t)
	}
	_ = req.Reply(proto.TAnswerTIDs, &proto.AnswerTIDsBody{TIDs: out})
}

// handleAskTransaction answers a replicating peer's request for one
// transaction's commit metadata row.
func (s *Server) handleAskTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	row, found, err := s.store.GetTransaction(ids.TID(body.TID))
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	if !found {
		_ = req.Fail(proto.ECTidNotFound, fmt.Sprintf("transaction %d not found", body.TID))
		return
	}
	oids := make([]uint64, len(row.OIDs))
	for i, o := range row.OIDs {
		oids[i] = uint64(o)
	}
	_ = req.Reply(proto.TAnswerTransaction, &proto.AnswerTransactionBody{
		TID:         uint64(row.TID),
		User:        row.User,
		Description: row.Description,
		Extension:   row.Extension,
		OIDs:        oids,
	})
}

func (s *Server) handleAskUnfinishedTransactions(ctx context.Context, conn *network.Connection, req *network.Request) {
	tids, err := s.store.GetUnfinishedTIDList()
	if err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}
	var maxTID ids.TID
	out := make([]uint64, len(tids))
	for i, t := range tids {
		out[i] = uint64(t)
		if t > maxTID {
			maxTID = t
		}
	}
	_ = req.Reply(proto.TAnswerUnfinishedTransactions, &proto.AnswerUnfinishedTransactionsBody{MaxTID: uint64(maxTID), TIDs: out})
}

// handleDeleteTransaction/handleCommitTransaction are the primary's
// verification decisions for a transaction a majority did or didn't lock.
func (s *Server) handleDeleteTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.DeleteTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		return
	}
	if err := s.store.DeleteTransaction(ids.TID(body.TID)); err != nil {
		s.log.Warn().Err(err).Msg("verification: delete transaction failed")
	}
}

func (s *Server) handleCommitTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.CommitTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		return
	}
	if err := s.store.FinishTransaction(ids.TID(body.TID)); err != nil {
		s.log.Warn().Err(err).Msg("verification: commit transaction failed")
	}
}

func (s *Server) handleAskPack(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskPackBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	_ = req.Reply(proto.TAnswerPack, &proto.AnswerPackBody{Success: true})
}

func (s *Server) handleNotifyPartitionChanges(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.NotifyPartitionChangesBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		return
	}
	current, _, err := s.store.GetPartitionTable()
	if err != nil {
		s.log.Warn().Err(err).Msg("read partition table failed")
		return
	}
	if ids.PTID(body.PTID) <= current {
		return
	}
	changes := make([]cluster.CellChange, len(body.Diff))
	for i, c := range body.Diff {
		changes[i] = cluster.CellChange{Partition: c.Partition, Node: ids.UUID(c.UUID), State: cluster.CellState(c.State)}
	}
	if err := s.store.ChangePartitionTable(ids.PTID(body.PTID), changes); err != nil {
		s.log.Warn().Err(err).Msg("apply partition changes failed")
	}
}
