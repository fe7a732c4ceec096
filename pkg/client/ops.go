package client

import (
	"context"
	"fmt"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
)

// Load returns the data for oid: exactTID pins a specific revision,
// beforeTID asks for the newest revision strictly before it, and both zero
// asks for the latest. It is the five-step load algorithm: consult the
// cache under loadMu, and on a miss dial a readable cell, fetch, verify and
// decompress, then insert the result before releasing loadMu so a second
// concurrent Load of the same oid never races the cache insert.
func (c *Client) Load(ctx context.Context, oid ids.OID, exactTID, beforeTID ids.TID) ([]byte, ids.TID, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if exactTID != ids.ZeroTID {
		if data, _, ok := c.cache.GetExact(oid, exactTID); ok {
			return data, exactTID, nil
		}
	} else if beforeTID != ids.ZeroTID {
		if tid, ok := c.cache.SerialBefore(oid, beforeTID); ok {
			if data, _, ok := c.cache.GetExact(oid, tid); ok {
				return data, tid, nil
			}
		}
	} else {
		if tid, ok := c.cache.LatestSerial(oid); ok {
			if data, _, ok := c.cache.GetExact(oid, tid); ok {
				return data, tid, nil
			}
		}
	}

	conn, err := c.disp.oneReadable(ctx, oid)
	if err != nil {
		return nil, ids.ZeroTID, err
	}

	var answer proto.AnswerObjectBody
	req := &proto.AskObjectBody{OID: uint64(oid), ExactTID: uint64(exactTID), BeforeTID: uint64(beforeTID)}
	if err := conn.Ask(ctx, proto.TAskObject, req, &answer); err != nil {
		return nil, ids.ZeroTID, fmt.Errorf("client: load oid %s: %w", oid, err)
	}

	data, err := decompress(answer.Data, answer.Compression)
	if err != nil {
		return nil, ids.ZeroTID, err
	}
	if got := checksum(data); got != answer.Checksum {
		return nil, ids.ZeroTID, fmt.Errorf("client: checksum mismatch for oid %s serial %d", oid, answer.Serial)
	}

	serial := ids.TID(answer.Serial)
	c.cache.Insert(oid, serial, data, ids.TID(answer.NextTID))
	return data, serial, nil
}

// Store records oid=data in txn (baseSerial is the revision the caller last
// read, ZeroTID for a newly-allocated oid) and issues AskStoreObject to
// every writable cell, the _store algorithm. Each cell's answer is awaited
// here; a conflict it reports is recorded in txn and only acted on later,
// by Vote's conflict-resolution loop.
func (c *Client) Store(ctx context.Context, txn *TxnContext, oid ids.OID, baseSerial ids.TID, data []byte) error {
	txn.record(oid, baseSerial, data)
	return c.dispatchStore(ctx, txn, oid, baseSerial, data)
}

func (c *Client) dispatchStore(ctx context.Context, txn *TxnContext, oid ids.OID, baseSerial ids.TID, data []byte) error {
	conns, err := c.disp.allWritable(ctx, oid)
	if err != nil {
		return err
	}

	payload, compressed := maybeCompress(data, c.Compress)
	sum := checksum(data)
	req := &proto.AskStoreObjectBody{
		OID:         uint64(oid),
		BaseSerial:  uint64(baseSerial),
		TID:         uint64(txn.tid),
		Compression: compressed,
		Checksum:    sum,
		Data:        payload,
	}

	for _, conn := range conns {
		var answer proto.AnswerStoreObjectBody
		if err := conn.Ask(ctx, proto.TAskStoreObject, req, &answer); err != nil {
			return fmt.Errorf("client: store oid %s: %w", oid, err)
		}
		if answer.Conflicting {
			txn.conflicts[oid] = ids.TID(answer.ConflictSerial)
			continue
		}
		txn.ackCount[oid]++
	}
	return nil
}

// Vote runs the conflict-resolution loop and, once every stored oid has at
// least one successful ack, broadcasts AskStoreTransaction to the writable
// cells of every touched partition. resolve may be nil, in which case any
// conflict fails the vote immediately.
func (c *Client) Vote(ctx context.Context, txn *TxnContext, resolve Resolver) error {
	if resolve == nil {
		resolve = defaultResolver
	}

	for {
		pending := make(map[ids.OID]ids.TID, len(txn.conflicts))
		for oid, serial := range txn.conflicts {
			pending[oid] = serial
		}
		if len(pending) == 0 {
			break
		}
		for oid, conflictSerial := range pending {
			delete(txn.conflicts, oid)
			merged, ok := resolve(oid, conflictSerial, txn.baseSerial[oid], txn.data[oid])
			if !ok {
				return &ConflictError{
					OID:            oid,
					AttemptedTID:   txn.tid,
					BaseSerial:     txn.baseSerial[oid],
					ConflictSerial: conflictSerial,
				}
			}
			txn.data[oid] = merged
			if err := c.dispatchStore(ctx, txn, oid, conflictSerial, merged); err != nil {
				return err
			}
		}
	}

	for _, oid := range txn.orderedOIDs {
		if txn.ackCount[oid] == 0 {
			return fmt.Errorf("client: STORE_FAILED: oid %s was never acknowledged by any cell", oid)
		}
	}

	cells := c.disp.writablePartitionCells(txn.orderedOIDs)
	if len(cells) == 0 && len(txn.orderedOIDs) > 0 {
		return fmt.Errorf("client: vote: no writable cells resolved for transaction %s", txn.tid)
	}
	seenAddr := make(map[string]bool)
	req := &proto.AskStoreTransactionBody{
		TID:         uint64(txn.tid),
		User:        txn.user,
		Description: txn.description,
		Extension:   txn.extension,
		OIDs:        oidList(txn.orderedOIDs),
	}
	for _, cell := range cells {
		n, ok := c.nodes.ByUUID(cell.Node)
		if !ok || n.Address == "" || seenAddr[n.Address] {
			continue
		}
		seenAddr[n.Address] = true
		conn, err := c.pool.Get(ctx, n.Address)
		if err != nil {
			return fmt.Errorf("client: vote: dial %s: %w", n.Address, err)
		}
		var answer proto.AnswerStoreTransactionBody
		if err := conn.Ask(ctx, proto.TAskStoreTransaction, req, &answer); err != nil {
			return fmt.Errorf("client: vote: store transaction on %s: %w", n.Address, err)
		}
	}

	var masterAnswer proto.AnswerStoreTransactionBody
	if err := c.askMaster(ctx, proto.TAskStoreTransaction, req, &masterAnswer); err != nil {
		return fmt.Errorf("client: vote: store transaction on master: %w", err)
	}

	txn.voted = true
	return nil
}

// Finish asks the primary to commit the voted transaction and patches the
// cache: the previous revision of every touched oid is closed off at the
// new tid, and the new revision itself is inserted open-ended.
func (c *Client) Finish(ctx context.Context, txn *TxnContext) (ids.TID, error) {
	if !txn.voted {
		return ids.ZeroTID, fmt.Errorf("client: finish called before vote for transaction %s", txn.tid)
	}

	var answer proto.AnswerTransactionFinishedBody
	req := &proto.AskFinishTransactionBody{TID: uint64(txn.tid), OIDs: oidList(txn.orderedOIDs)}
	if err := c.askMaster(ctx, proto.TAskFinishTransaction, req, &answer); err != nil {
		return ids.ZeroTID, fmt.Errorf("client: finish transaction %s: %w", txn.tid, err)
	}

	tid := ids.TID(answer.TID)
	for _, oid := range txn.orderedOIDs {
		if baseSerial, ok := txn.baseSerial[oid]; ok && baseSerial != ids.ZeroTID {
			c.cache.PatchEndTID(oid, baseSerial, tid)
		}
		c.cache.Insert(oid, tid, txn.data[oid], ids.ZeroTID)
	}
	return tid, nil
}

// Abort notifies every storage holding a writable cell for one of txn's
// stored oids, and then the primary, that txn will never be finished; no
// reply is expected. A storage that cannot be reached is skipped.
func (c *Client) Abort(ctx context.Context, txn *TxnContext) error {
	notified := make(map[*network.Connection]bool)
	for _, oid := range txn.orderedOIDs {
		conns, err := c.disp.allWritable(ctx, oid)
		if err != nil {
			continue
		}
		for _, conn := range conns {
			if !notified[conn] {
				notified[conn] = true
				_ = conn.Notify(proto.TAbortTransaction, &proto.AbortTransactionBody{TID: uint64(txn.tid)})
			}
		}
	}
	master, err := c.dialMaster(ctx)
	if err != nil {
		return err
	}
	return master.Notify(proto.TAbortTransaction, &proto.AbortTransactionBody{TID: uint64(txn.tid)})
}

// Invalidate applies an InvalidateObjects notification to the cache,
// typically received on a long-lived connection separate from the
// request/response Ask pairing; callers wire this to their notification
// dispatch loop.
func (c *Client) Invalidate(tid ids.TID, oids []ids.OID) {
	for _, oid := range oids {
		c.cache.Invalidate(oid, tid)
	}
}

// Undo sends AskObjectUndoSerial for oids under txn to the primary and
// returns the per-oid entries of its answer. Neither the master's nor the
// storage's handler set answers that packet type, so the call returns the
// peer's ECProtocolError reply as an error.
func (c *Client) Undo(ctx context.Context, txn *TxnContext, undoneTID ids.TID, oids []ids.OID) ([]proto.UndoSerialEntry, error) {
	var answer proto.AnswerObjectUndoSerialBody
	req := &proto.AskObjectUndoSerialBody{TID: uint64(txn.tid), UndoneTID: uint64(undoneTID), OIDs: oidList(oids)}
	if err := c.askMaster(ctx, proto.TAskObjectUndoSerial, req, &answer); err != nil {
		return nil, fmt.Errorf("client: undo serial: %w", err)
	}
	return answer.Entries, nil
}

func oidList(oids []ids.OID) []uint64 {
	out := make([]uint64, len(oids))
	for i, o := range oids {
		out[i] = uint64(o)
	}
	return out
}
