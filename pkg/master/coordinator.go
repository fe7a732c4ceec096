package master

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
)

// StorageReport is what one connected storage answers during VERIFYING:
// its last known ids and the transactions it still has locked but
// unfinished.
type StorageReport struct {
	UUID        ids.UUID
	LastTID     ids.TID
	LastPTID    ids.PTID
	LastOID     ids.OID
	Unfinished  []ids.TID
}

// Coordinator drives the cluster-wide state machine RECOVERING -> VERIFYING
// -> RUNNING -> STOPPING. Only the raft leader runs it; a master that loses
// leadership stops driving transitions and falls back to mirroring
// whatever the new leader broadcasts.
type Coordinator struct {
	fsm     *FSM
	elect   *Election
	log     zerolog.Logger
	pool    *network.Pool
	replicas uint32

	mu       sync.Mutex
	reports  map[ids.UUID]StorageReport
}

// NewCoordinator wires a Coordinator to the FSM/raft pair it drives and the
// connection pool it uses to poll storages during verification.
func NewCoordinator(fsm *FSM, elect *Election, pool *network.Pool, replicas uint32, log zerolog.Logger) *Coordinator {
	return &Coordinator{fsm: fsm, elect: elect, pool: pool, replicas: replicas, log: log, reports: make(map[ids.UUID]StorageReport)}
}

// EnterVerification transitions RECOVERING -> VERIFYING (or RUNNING ->
// VERIFYING, on an operational storage dropping out) and begins collecting
// AskLastIDs/AskUnfinishedTransactions from every connected storage.
func (c *Coordinator) EnterVerification(ctx context.Context) error {
	if _, err := c.elect.Apply(EncodeSetClusterState(uint8(cluster.StateVerifying)), 5*time.Second); err != nil {
		return err
	}

	c.mu.Lock()
	c.reports = make(map[ids.UUID]StorageReport)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, n := range c.fsm.Nodes().ByType(proto.NodeTypeStorage) {
		if n.State != proto.NodeStateRunning {
			continue
		}
		wg.Add(1)
		go func(n cluster.Node) {
			defer wg.Done()
			c.collectReport(ctx, n)
		}(n)
	}
	wg.Wait()

	c.resolvePendingTransactions(ctx)

	if c.fsm.PartitionTable().Operational() {
		_, err := c.elect.Apply(EncodeSetClusterState(uint8(cluster.StateRunning)), 5*time.Second)
		return err
	}
	return nil
}

func (c *Coordinator) collectReport(ctx context.Context, n cluster.Node) {
	conn, err := c.pool.Get(ctx, n.Address)
	if err != nil {
		c.log.Warn().Err(err).Str("address", n.Address).Msg("verification: storage unreachable")
		return
	}

	var lastIDs proto.AnswerLastIDsBody
	if err := conn.Ask(ctx, proto.TAskLastIDs, &proto.AskLastIDsBody{}, &lastIDs); err != nil {
		c.log.Warn().Err(err).Msg("verification: AskLastIDs failed")
		return
	}
	var unfinished proto.AnswerUnfinishedTransactionsBody
	if err := conn.Ask(ctx, proto.TAskUnfinishedTransactions, &proto.AskUnfinishedTransactionsBody{}, &unfinished); err != nil {
		c.log.Warn().Err(err).Msg("verification: AskUnfinishedTransactions failed")
		return
	}

	report := StorageReport{
		UUID:     n.UUID,
		LastTID:  ids.TID(lastIDs.LastTID),
		LastPTID: ids.PTID(lastIDs.LastPTID),
		LastOID:  ids.OID(lastIDs.LastOID),
	}
	for _, t := range unfinished.TIDs {
		report.Unfinished = append(report.Unfinished, ids.TID(t))
	}

	c.mu.Lock()
	c.reports[n.UUID] = report
	c.mu.Unlock()
}

// resolvePendingTransactions commits transactions a majority of replicas
// already locked, and discards the rest — the specification's rule for
// draining in-flight transactions found during verification.
func (c *Coordinator) resolvePendingTransactions(ctx context.Context) {
	c.mu.Lock()
	reports := make(map[ids.UUID]StorageReport, len(c.reports))
	for k, v := range c.reports {
		reports[k] = v
	}
	c.mu.Unlock()

	lockCount := make(map[ids.TID]int)
	for _, r := range reports {
		for _, tid := range r.Unfinished {
			lockCount[tid]++
		}
	}

	majority := int(c.replicas)/2 + 1
	for tid, count := range lockCount {
		decided := proto.CommitTransactionBody{TID: uint64(tid)}
		commit := count >= majority
		for _, n := range c.fsm.Nodes().ByType(proto.NodeTypeStorage) {
			conn, err := c.pool.Get(ctx, mustAddress(c.fsm, n.UUID))
			if err != nil {
				continue
			}
			if commit {
				_ = conn.Notify(proto.TCommitTransaction, &decided)
			} else {
				_ = conn.Notify(proto.TDeleteTransaction, &proto.DeleteTransactionBody{TID: uint64(tid)})
			}
		}
		_, _ = c.elect.Apply(EncodeFinishTransaction(tid), 5*time.Second)
	}
}

func mustAddress(fsm *FSM, uuid ids.UUID) string {
	n, _ := fsm.Nodes().ByUUID(uuid)
	return n.Address
}
