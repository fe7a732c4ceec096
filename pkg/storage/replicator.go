package storage

import (
	"context"
	"time"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
)

// Replicator drives one out-of-date cell back to up-to-date by pulling
// transaction metadata and object data from a peer storage whose cell for
// the same partition is up-to-date, per the specification's pin-then-pull
// replication algorithm.
type Replicator struct {
	store         Store
	pool          *network.Pool
	log           zerolog.Logger
	numPartitions uint32
}

// NewReplicator wires a Replicator to the store it fills and the pool it
// uses to reach the primary and peer storages.
func NewReplicator(store Store, pool *network.Pool, numPartitions uint32, log zerolog.Logger) *Replicator {
	return &Replicator{store: store, pool: pool, numPartitions: numPartitions, log: log}
}

// Replicate pulls partition from peerAddress into up-to-date, pinning the
// critical TID obtained from the primary before starting the pull, and
// sending NotifyReplicationDone to the primary on completion. The master
// registers no handler for that packet, so the cell is not promoted.
//
// oids is the set of objects this partition owns; the wire protocol has no
// "list OIDs in partition" packet, so the caller (normally the partition
// table's owner-side bookkeeping) supplies it rather than the replicator
// discovering it over the network.
func (r *Replicator) Replicate(ctx context.Context, primaryAddress, peerAddress string, partition uint32, oids []ids.OID) error {
	criticalTID, err := r.pinCriticalTID(ctx, primaryAddress)
	if err != nil {
		return err
	}

	peer, err := r.pool.Get(ctx, peerAddress)
	if err != nil {
		return err
	}

	if err := r.pullTransactions(ctx, peer, partition, criticalTID); err != nil {
		return err
	}
	if err := r.pullObjects(ctx, peer, oids); err != nil {
		return err
	}

	primary, err := r.pool.Get(ctx, primaryAddress)
	if err != nil {
		return err
	}
	return primary.Notify(proto.TNotifyReplicationDone, &proto.NotifyReplicationDoneBody{Partition: partition})
}

// pinCriticalTID asks the primary for the bound up to which the peer source
// is known complete, then blocks until every transaction still pending at
// that point has locally resolved (committed or dropped) — step 1-2 of the
// specification's replication algorithm.
func (r *Replicator) pinCriticalTID(ctx context.Context, primaryAddress string) (ids.TID, error) {
	primary, err := r.pool.Get(ctx, primaryAddress)
	if err != nil {
		return ids.ZeroTID, err
	}
	var resp proto.AnswerReplicationCriticalTIDBody
	if err := primary.Ask(ctx, proto.TAskReplicationCriticalTID, &proto.AskReplicationCriticalTIDBody{}, &resp); err != nil {
		return ids.ZeroTID, err
	}

	pending := make(map[ids.TID]bool, len(resp.PendingTIDs))
	for _, t := range resp.PendingTIDs {
		pending[ids.TID(t)] = true
	}
	for len(pending) > 0 {
		unfinished, err := r.store.GetUnfinishedTIDList()
		if err != nil {
			return ids.ZeroTID, err
		}
		stillPending := make(map[ids.TID]bool, len(unfinished))
		for _, t := range unfinished {
			stillPending[t] = true
		}
		for t := range pending {
			if !stillPending[t] {
				delete(pending, t)
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ids.ZeroTID, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return ids.TID(resp.CriticalTID), nil
}

// pullTransactions identifies tids known to the peer but missing locally
// within this partition, up to criticalTID, and fetches each one's commit
// metadata row.
func (r *Replicator) pullTransactions(ctx context.Context, peer *network.Connection, partition uint32, criticalTID ids.TID) error {
	var resp proto.AnswerTIDsBody
	if err := peer.Ask(ctx, proto.TAskTIDs, &proto.AskTIDsBody{First: 0, Last: 0, Partitions: []uint32{partition}}, &resp); err != nil {
		return err
	}
	local, err := r.store.GetTIDList(0, 0, []uint32{partition}, r.numPartitions)
	if err != nil {
		return err
	}
	known := make(map[ids.TID]bool, len(local))
	for _, t := range local {
		known[t] = true
	}
	for _, raw := range resp.TIDs {
		tid := ids.TID(raw)
		if tid > criticalTID || known[tid] {
			continue
		}

		var answer proto.AnswerTransactionBody
		if err := peer.Ask(ctx, proto.TAskTransaction, &proto.AskTransactionBody{TID: uint64(tid)}, &answer); err != nil {
			return err
		}
		oids := make([]ids.OID, len(answer.OIDs))
		for i, o := range answer.OIDs {
			oids[i] = ids.OID(o)
		}
		txn := TransactionRow{
			TID:         tid,
			User:        answer.User,
			Description: answer.Description,
			Extension:   answer.Extension,
			OIDs:        oids,
		}
		if err := r.store.StoreTransaction(tid, nil, txn, false); err != nil {
			return err
		}
		r.log.Debug().Str("tid", tid.String()).Msg("replication: pulled transaction metadata from peer")
	}
	return nil
}

// pullObjects fetches every serial of every oid the peer has that this
// storage is missing.
func (r *Replicator) pullObjects(ctx context.Context, peer *network.Connection, oids []ids.OID) error {
	for _, oid := range oids {
		var history proto.AnswerObjectHistoryBody
		if err := peer.Ask(ctx, proto.TAskObjectHistory, &proto.AskObjectHistoryBody{OID: uint64(oid), FirstOffset: 0, Count: 0}, &history); err != nil {
			return err
		}
		for _, entry := range history.History {
			serial := ids.TID(entry.TID)
			if _, found, err := r.store.GetObject(oid, serial, ids.ZeroTID); err != nil {
				return err
			} else if found {
				continue
			}

			var obj proto.AnswerObjectBody
			if err := peer.Ask(ctx, proto.TAskObject, &proto.AskObjectBody{OID: uint64(oid), ExactTID: uint64(serial)}, &obj); err != nil {
				return err
			}

			row := ObjectRow{
				OID:         oid,
				Serial:      serial,
				Compression: obj.Compression,
				Checksum:    obj.Checksum,
				Data:        obj.Data,
				DataTID:     ids.TID(obj.DataTID),
			}
			txn := TransactionRow{TID: serial, OIDs: []ids.OID{oid}}
			if err := r.store.StoreTransaction(serial, []ObjectRow{row}, txn, false); err != nil {
				return err
			}
		}
	}
	return nil
}
