package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
)

// Server is the master's packet-handling face: identification of new
// peers, primary discovery, partition-table and cluster-state queries, and
// orchestration of the two-phase commit protocol's master-side steps
// (AskBeginTransaction, AskNewOIDs, AskFinishTransaction).
type Server struct {
	fsm   *FSM
	elect *Election
	coord *Coordinator
	pool  *network.Pool
	log   zerolog.Logger

	clusterName string
	self        cluster.Node
}

// NewServer builds the master's handler set wiring.
func NewServer(fsm *FSM, elect *Election, coord *Coordinator, pool *network.Pool, clusterName string, self cluster.Node, log zerolog.Logger) *Server {
	return &Server{fsm: fsm, elect: elect, coord: coord, pool: pool, clusterName: clusterName, self: self, log: log}
}

// Handlers returns the HandlerSet a master installs on every accepted
// connection; it includes the RequestIdentification handler a peer calls
// first.
func (s *Server) Handlers() network.HandlerSet {
	return network.HandlerSet{
		proto.TRequestIdentification:     s.handleRequestIdentification,
		proto.TAskPrimary:                s.handleAskPrimary,
		proto.TAskPartitionTable:         s.handleAskPartitionTable,
		proto.TAskClusterState:           s.handleAskClusterState,
		proto.TAskBeginTransaction:       s.handleAskBeginTransaction,
		proto.TAskNewOIDs:                s.handleAskNewOIDs,
		proto.TAskStoreTransaction:       s.handleAskStoreTransaction,
		proto.TAskFinishTransaction:      s.handleAskFinishTransaction,
		proto.TAbortTransaction:          s.handleAbortTransaction,
		proto.TAskBarrier:                s.handleAskBarrier,
		proto.TAskClusterNodes:           s.handleAskClusterNodes,
		proto.TAskSetNodeState:           s.handleAskSetNodeState,
		proto.TAskAddPendingNodes:        s.handleAskAddPendingNodes,
		proto.TAskCheckReplicas:          s.handleAskCheckReplicas,
		proto.TAskReplicationCriticalTID: s.handleAskReplicationCriticalTID,
	}
}

// handleAskStoreTransaction is the vote-time metadata submission the client
// also sends directly to the storages touched; the master itself needs only
// acknowledge it, since AskFinishTransaction's oid_list is authoritative for
// which storages get locked.
func (s *Server) handleAskStoreTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskStoreTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	_ = req.Reply(proto.TAnswerStoreTransaction, &proto.AnswerStoreTransactionBody{TID: body.TID})
}

// handleAskBarrier answers the client's consistency barrier with the last
// TID the primary has allocated. The answer is not ordered after any
// InvalidateObjects: handleAskFinishTransaction sends those on separate
// pooled connections to each client's advertised address, not on the
// connection the barrier arrives on.
func (s *Server) handleAskBarrier(ctx context.Context, conn *network.Connection, req *network.Request) {
	_ = req.Reply(proto.TAnswerBarrier, &proto.AnswerBarrierBody{LastTID: uint64(s.fsm.LastTID())})
}

// handleAskReplicationCriticalTID answers a replicating storage's pin
// request with the current last TID and the set of transactions still
// in-flight at that point, which the replicator must wait to resolve before
// treating the pin as safe to pull up to.
func (s *Server) handleAskReplicationCriticalTID(ctx context.Context, conn *network.Connection, req *network.Request) {
	inFlight := s.fsm.InFlightTIDs()
	pending := make([]uint64, len(inFlight))
	for i, t := range inFlight {
		pending[i] = uint64(t)
	}
	_ = req.Reply(proto.TAnswerReplicationCriticalTID, &proto.AnswerReplicationCriticalTIDBody{
		CriticalTID: uint64(s.fsm.LastTID()),
		PendingTIDs: pending,
	})
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

	uuid := ids.UUID(body.UUID)
	if uuid.IsZero() {
		uuid = ids.NewUUID()
	}
	s.fsm.Nodes().Upsert(cluster.Node{UUID: uuid, Type: body.NodeType, Address: body.Address, State: proto.NodeStateRunning})
	_, _ = s.elect.Apply(EncodeUpsertNode(cluster.Node{UUID: uuid, Type: body.NodeType, Address: body.Address, State: proto.NodeStateRunning}), 5*time.Second)

	ptid, _ := s.fsm.PartitionTable().Snapshot()
	_ = req.Reply(proto.TAcceptIdentification, &proto.AcceptIdentificationBody{
		YourUUID:      uint64(uuid),
		MyUUID:        uint64(s.self.UUID),
		MyNodeType:    proto.NodeTypeMaster,
		NumPartitions: s.fsm.PartitionTable().NumPartitions(),
		NumReplicas:   0,
	})
	_ = ptid
}

// handleAskPrimary answers with the UUID of the raft leader this master
// actually knows of, not this master's own UUID — a secondary must redirect
// callers to the primary, never claim to be it.
func (s *Server) handleAskPrimary(ctx context.Context, conn *network.Connection, req *network.Request) {
	primaryUUID, ok := s.elect.PrimaryUUID()
	if !ok {
		_ = req.Fail(proto.ECNotReady, "no primary elected")
		return
	}

	masters := map[ids.UUID]cluster.Node{s.self.UUID: s.self}
	for _, n := range s.fsm.Nodes().ByType(proto.NodeTypeMaster) {
		masters[n.UUID] = n
	}
	infos := make([]proto.NodeInfo, 0, len(masters))
	for _, n := range masters {
		infos = append(infos, cluster.ToNodeInfo(n))
	}

	_ = req.Reply(proto.TAnswerPrimary, &proto.AnswerPrimaryBody{
		PrimaryUUID:  uint64(primaryUUID),
		KnownMasters: infos,
	})
}

func (s *Server) handleAskPartitionTable(ctx context.Context, conn *network.Connection, req *network.Request) {
	ptid, rows := s.fsm.PartitionTable().Snapshot()
	var out []proto.PartitionRow
	for partition, cells := range rows {
		var pcells []proto.CellInfo
		for _, c := range cells {
			pcells = append(pcells, proto.CellInfo{UUID: uint64(c.Node), State: proto.CellState(c.State)})
		}
		out = append(out, proto.PartitionRow{Partition: partition, Cells: pcells})
	}
	_ = req.Reply(proto.TAnswerPartitionTable, &proto.AnswerPartitionTableBody{PTID: uint64(ptid), Partitions: out})
}

func (s *Server) handleAskClusterState(ctx context.Context, conn *network.Connection, req *network.Request) {
	_ = req.Reply(proto.TAnswerClusterState, &proto.AnswerClusterStateBody{State: s.fsm.ClusterState().Current()})
}

func (s *Server) handleAskBeginTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskBeginTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	if !s.elect.IsPrimary() {
		_ = req.Fail(proto.ECNotPrimary, s.elect.PrimaryAddress())
		return
	}
	result, err := s.elect.Apply(EncodeAllocateTID(ids.TID(body.ProposedTID)), 5*time.Second)
	if err != nil {
		_ = req.Fail(proto.ECNotReady, err.Error())
		return
	}
	tid := result.(ids.TID)
	_, _ = s.elect.Apply(EncodeBeginTransaction(tid), 5*time.Second)
	_ = req.Reply(proto.TAnswerBeginTransaction, &proto.AnswerBeginTransactionBody{TID: uint64(tid)})
}

func (s *Server) handleAskNewOIDs(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskNewOIDsBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	result, err := s.elect.Apply(EncodeAllocateOIDs(body.Count), 5*time.Second)
	if err != nil {
		_ = req.Fail(proto.ECNotReady, err.Error())
		return
	}
	allocated := result.(allocateOIDsResult)
	oids := make([]uint64, len(allocated.OIDs))
	for i, o := range allocated.OIDs {
		oids[i] = uint64(o)
	}
	_ = req.Reply(proto.TAnswerNewOIDs, &proto.AnswerNewOIDsBody{OIDs: oids})
}

// handleAskFinishTransaction drives LockInformation/InformationLocked
// across every storage touched by the transaction, then answers the client,
// sends NotifyUnlockInformation to every storage that locked, and sends
// InvalidateObjects to every known client node, the committer included.
func (s *Server) handleAskFinishTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskFinishTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	tid := ids.TID(body.TID)

	byPartition := s.touchedPartitions(body.OIDs)
	locked, failed := s.lockPartitions(ctx, byPartition, tid)

	if len(failed) > 0 {
		if !s.coverageHolds(byPartition, failed) {
			s.abortAll(ctx, locked, tid)
			_ = req.Fail(proto.ECStorageError, "lock phase failed: remaining cells no longer cover every touched partition")
			return
		}
		// Enough up-to-date cells survive to cover every touched partition:
		// proceed with the commit, demoting the lost cells to out-of-date
		// rather than aborting the whole transaction (they resync later via
		// replication).
		if err := s.demoteFailedCells(failed); err != nil {
			s.abortAll(ctx, locked, tid)
			_ = req.Fail(proto.ECStorageError, err.Error())
			return
		}
		s.log.Warn().Str("tid", tid.String()).Int("failed_cells", len(failed)).Msg("finishing transaction with degraded partition coverage")
	}

	if _, err := s.elect.Apply(EncodeFinishTransaction(tid), 5*time.Second); err != nil {
		_ = req.Fail(proto.ECStorageError, err.Error())
		return
	}

	_ = req.Reply(proto.TAnswerTransactionFinished, &proto.AnswerTransactionFinishedBody{TID: uint64(tid)})

	for _, n := range locked {
		if c, err := s.pool.Get(ctx, n.Address); err == nil {
			_ = c.Notify(proto.TNotifyUnlockInformation, &proto.NotifyUnlockInformationBody{TID: uint64(tid)})
		}
	}
	for _, n := range s.fsm.Nodes().ByType(proto.NodeTypeClient) {
		if c, err := s.pool.Get(ctx, n.Address); err == nil {
			_ = c.Notify(proto.TInvalidateObjects, &proto.InvalidateObjectsBody{TID: uint64(tid), OIDs: body.OIDs})
		}
	}
}

func (s *Server) handleAbortTransaction(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AbortTransactionBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	_, _ = s.elect.Apply(EncodeAbortTransaction(ids.TID(body.TID)), 5*time.Second)
}

func (s *Server) handleAskClusterNodes(ctx context.Context, conn *network.Connection, req *network.Request) {
	var infos []proto.NodeInfo
	for _, n := range s.fsm.Nodes().All() {
		infos = append(infos, cluster.ToNodeInfo(n))
	}
	_ = req.Reply(proto.TAnswerClusterNodes, &proto.AnswerClusterNodesBody{Nodes: infos})
}

func (s *Server) handleAskSetNodeState(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskSetNodeStateBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	_, err := s.elect.Apply(EncodeSetNodeState(ids.UUID(body.UUID), uint8(body.State)), 5*time.Second)
	if err != nil {
		_ = req.Fail(proto.ECNotReady, err.Error())
		return
	}
	_ = req.Reply(proto.TAck, &proto.AckBody{Message: "ok"})
}

// handleAskAddPendingNodes admits a batch of identified-but-not-yet-placed
// storages by marking them pending. No master code reads the pending state
// to assign cells, so the partition table is left unchanged.
func (s *Server) handleAskAddPendingNodes(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskAddPendingNodesBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	for _, raw := range body.UUIDs {
		if _, err := s.elect.Apply(EncodeSetNodeState(ids.UUID(raw), uint8(proto.NodeStatePending)), 5*time.Second); err != nil {
			_ = req.Fail(proto.ECNotReady, err.Error())
			return
		}
	}
	_ = req.Reply(proto.TAck, &proto.AckBody{Message: "ok"})
}

// handleAskCheckReplicas reports, for each requested partition, whether
// every assigned replica is up-to-date — the admin node's "are my replicas
// healthy" query.
func (s *Server) handleAskCheckReplicas(ctx context.Context, conn *network.Connection, req *network.Request) {
	var body proto.AskCheckReplicasBody
	if err := proto.DecodeBody(req.Payload, &body); err != nil {
		_ = req.Fail(proto.ECProtocolError, err.Error())
		return
	}
	pt := s.fsm.PartitionTable()
	var behind []uint32
	for _, partition := range body.Partitions {
		cells := pt.CellsForPartition(partition, false, true)
		for _, c := range cells {
			if c.State != cluster.CellUpToDate {
				behind = append(behind, partition)
				break
			}
		}
	}
	if len(behind) > 0 {
		_ = req.Fail(proto.ECNotReady, fmt.Sprintf("partitions behind: %v", behind))
		return
	}
	_ = req.Reply(proto.TAck, &proto.AckBody{Message: "ok"})
}

// partitionCell pairs a writable cell's node with the partition it was
// selected for, so a lock failure can be traced back to which partition it
// jeopardizes.
type partitionCell struct {
	partition uint32
	node      cluster.Node
}

// touchedPartitions maps every partition touched by oids to the nodes of its
// writable cells. A node serving several touched partitions appears under
// each; lockPartitions locks it only once.
func (s *Server) touchedPartitions(oids []uint64) map[uint32][]cluster.Node {
	pt := s.fsm.PartitionTable()
	byPartition := make(map[uint32][]cluster.Node)
	for _, raw := range oids {
		partition := ids.PartitionOf(ids.OID(raw), pt.NumPartitions())
		if _, ok := byPartition[partition]; ok {
			continue
		}
		var nodes []cluster.Node
		for _, c := range pt.CellsForPartition(partition, false, true) {
			if n, ok := s.fsm.Nodes().ByUUID(c.Node); ok {
				nodes = append(nodes, n)
			}
		}
		byPartition[partition] = nodes
	}
	return byPartition
}

// lockPartitions fans LockInformation out to every distinct node across
// byPartition's cells, once per node, and reports which nodes answered and
// which failed — the failure set may span more than one partition if a node
// serves several.
func (s *Server) lockPartitions(ctx context.Context, byPartition map[uint32][]cluster.Node, tid ids.TID) (locked, failed []cluster.Node) {
	var cells []partitionCell
	seen := make(map[ids.UUID]bool)
	for partition, nodes := range byPartition {
		for _, n := range nodes {
			if seen[n.UUID] {
				continue
			}
			seen[n.UUID] = true
			cells = append(cells, partitionCell{partition: partition, node: n})
		}
	}

	var wg sync.WaitGroup
	ok := make([]bool, len(cells))
	for i, pc := range cells {
		wg.Add(1)
		go func(i int, n cluster.Node) {
			defer wg.Done()
			conn, err := s.pool.Get(ctx, n.Address)
			if err != nil {
				return
			}
			var resp proto.InformationLockedBody
			ok[i] = conn.Ask(ctx, proto.TLockInformation, &proto.LockInformationBody{TID: uint64(tid)}, &resp) == nil
		}(i, pc.node)
	}
	wg.Wait()

	for i, pc := range cells {
		if ok[i] {
			locked = append(locked, pc.node)
		} else {
			failed = append(failed, pc.node)
		}
	}
	return locked, failed
}

// coverageHolds reports whether, after discarding failed's nodes, every
// partition in byPartition still has at least one surviving cell — the
// condition under which a partial lock failure demotes rather than aborts.
func (s *Server) coverageHolds(byPartition map[uint32][]cluster.Node, failed []cluster.Node) bool {
	down := make(map[ids.UUID]bool, len(failed))
	for _, n := range failed {
		down[n.UUID] = true
	}
	for _, nodes := range byPartition {
		covered := false
		for _, n := range nodes {
			if !down[n.UUID] {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// demoteFailedCells applies a partition table diff demoting every (partition,
// node) pair whose lock failed to out-of-date, so the cell resyncs via
// replication instead of silently drifting from the rest of the cluster.
func (s *Server) demoteFailedCells(failed []cluster.Node) error {
	down := make(map[ids.UUID]bool, len(failed))
	for _, n := range failed {
		down[n.UUID] = true
	}

	ptid, rows := s.fsm.PartitionTable().Snapshot()
	var changes []cluster.CellChange
	for partition, cells := range rows {
		for _, c := range cells {
			if down[c.Node] && c.State == cluster.CellUpToDate {
				changes = append(changes, cluster.CellChange{Partition: partition, Node: c.Node, State: cluster.CellOutOfDate})
			}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := s.elect.Apply(EncodePartitionUpdate(ptid+1, changes), 5*time.Second)
	return err
}

func (s *Server) abortAll(ctx context.Context, storages []cluster.Node, tid ids.TID) {
	for _, n := range storages {
		if c, err := s.pool.Get(ctx, n.Address); err == nil {
			_ = c.Notify(proto.TAbortTransaction, &proto.AbortTransactionBody{TID: uint64(tid)})
		}
	}
}
