package master

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/hashicorp/raft"
)

// command is one state change proposed to the raft log. op selects which
// mutation to apply; data carries its JSON-encoded argument.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opUpsertNode       = "upsert_node"
	opSetNodeState     = "set_node_state"
	opPartitionUpdate  = "partition_update"
	opSetClusterState  = "set_cluster_state"
	opAllocateTID      = "allocate_tid"
	opAllocateOIDs     = "allocate_oids"
	opBeginTransaction = "begin_transaction"
	opFinishTransaction = "finish_transaction"
	opAbortTransaction = "abort_transaction"
)

type partitionUpdateArgs struct {
	PTID    ids.PTID
	Changes []cluster.CellChange
}

type allocateOIDsArgs struct {
	Count uint32
}

type allocateOIDsResult struct {
	OIDs []ids.OID
}

// FSM is the raft finite state machine for the primary master: it owns the
// authoritative node table, partition table, cluster state machine, TID/OID
// allocators, and the set of transactions currently between
// AskBeginTransaction and AskFinishTransaction. Every mutation a master
// makes to shared cluster state — accepting a new storage, moving a cell
// from out-of-date to up-to-date, advancing the cluster state machine —
// goes through Apply so every master replica (voting or not) converges on
// the same view.
type FSM struct {
	mu sync.RWMutex

	nodes  *cluster.NodeManager
	pt     *cluster.PartitionTable
	state  *cluster.StateMachine
	tids   ids.TIDGenerator
	lastOID ids.OID

	// inFlight holds transactions that have begun but not yet finished or
	// aborted, so VERIFYING can recover them after a master failover.
	inFlight map[ids.TID]bool
}

// NewFSM creates an FSM whose partition table is sized for numPartitions/
// numReplicas — fixed at cluster creation time per the specification.
func NewFSM(numPartitions, numReplicas uint32) *FSM {
	return &FSM{
		nodes:    cluster.NewNodeManager(),
		pt:       cluster.NewPartitionTable(numPartitions, numReplicas),
		state:    cluster.NewStateMachine(),
		inFlight: make(map[ids.TID]bool),
	}
}

// Nodes, PartitionTable, and ClusterState give read access to FSM-owned
// state for handlers that only need to observe it, without routing every
// read through Apply.
func (f *FSM) Nodes() *cluster.NodeManager        { return f.nodes }
func (f *FSM) PartitionTable() *cluster.PartitionTable { return f.pt }
func (f *FSM) ClusterState() *cluster.StateMachine { return f.state }

// LastTID returns the most recently allocated TID, consulted by AskBarrier
// and by replication's critical-TID pin.
func (f *FSM) LastTID() ids.TID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tids.Last()
}

// InFlightTIDs returns the transactions currently between begin and
// finish/abort, consulted during VERIFYING.
func (f *FSM) InFlightTIDs() []ids.TID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ids.TID, 0, len(f.inFlight))
	for tid := range f.inFlight {
		out = append(out, tid)
	}
	return out
}

func encode(op string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("master: encode %s: %v", op, err))
	}
	payload, err := json.Marshal(command{Op: op, Data: raw})
	if err != nil {
		panic(fmt.Sprintf("master: encode command %s: %v", op, err))
	}
	return payload
}

// EncodeUpsertNode builds the log entry for registering or updating a node.
func EncodeUpsertNode(n cluster.Node) []byte { return encode(opUpsertNode, n) }

// EncodeSetNodeState builds the log entry for an admin or liveness-driven
// node state change.
func EncodeSetNodeState(uuid ids.UUID, state uint8) []byte {
	return encode(opSetNodeState, struct {
		UUID  ids.UUID
		State uint8
	}{uuid, state})
}

// EncodePartitionUpdate builds the log entry for a partition table diff.
func EncodePartitionUpdate(ptid ids.PTID, changes []cluster.CellChange) []byte {
	return encode(opPartitionUpdate, partitionUpdateArgs{PTID: ptid, Changes: changes})
}

// EncodeSetClusterState builds the log entry for a cluster state transition.
func EncodeSetClusterState(state uint8) []byte {
	return encode(opSetClusterState, struct{ State uint8 }{state})
}

// EncodeAllocateTID builds the log entry allocating a TID no smaller than
// proposed, satisfying a client's AskBeginTransaction.
func EncodeAllocateTID(proposed ids.TID) []byte {
	return encode(opAllocateTID, struct{ Proposed ids.TID }{proposed})
}

// EncodeAllocateOIDs builds the log entry allocating count fresh OIDs.
func EncodeAllocateOIDs(count uint32) []byte {
	return encode(opAllocateOIDs, allocateOIDsArgs{Count: count})
}

// EncodeBeginTransaction/EncodeFinishTransaction/EncodeAbortTransaction
// track a transaction's membership in the in-flight set used by
// verification.
func EncodeBeginTransaction(tid ids.TID) []byte {
	return encode(opBeginTransaction, struct{ TID ids.TID }{tid})
}
func EncodeFinishTransaction(tid ids.TID) []byte {
	return encode(opFinishTransaction, struct{ TID ids.TID }{tid})
}
func EncodeAbortTransaction(tid ids.TID) []byte {
	return encode(opAbortTransaction, struct{ TID ids.TID }{tid})
}

// Apply applies one committed raft log entry. The return value becomes the
// result delivered to whichever goroutine called raft.Apply, so allocation
// ops return their allocated value and everything else returns (nil, error).
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("master: decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opUpsertNode:
		var n cluster.Node
		if err := json.Unmarshal(cmd.Data, &n); err != nil {
			return err
		}
		f.nodes.Upsert(n)
		return nil

	case opSetNodeState:
		var args struct {
			UUID  ids.UUID
			State uint8
		}
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		f.nodes.SetState(args.UUID, asNodeState(args.State))
		return nil

	case opPartitionUpdate:
		var args partitionUpdateArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.pt.Update(args.PTID, args.Changes)

	case opSetClusterState:
		var args struct{ State uint8 }
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.state.Transition(asClusterState(args.State))

	case opAllocateTID:
		var args struct{ Proposed ids.TID }
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.tids.Next(args.Proposed)

	case opAllocateOIDs:
		var args allocateOIDsArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		out := make([]ids.OID, args.Count)
		for i := range out {
			f.lastOID++
			out[i] = f.lastOID
		}
		return allocateOIDsResult{OIDs: out}

	case opBeginTransaction:
		var args struct{ TID ids.TID }
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		f.inFlight[args.TID] = true
		return nil

	case opFinishTransaction, opAbortTransaction:
		var args struct{ TID ids.TID }
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		delete(f.inFlight, args.TID)
		return nil

	default:
		return fmt.Errorf("master: unknown command %q", cmd.Op)
	}
}

func asNodeState(v uint8) proto.NodeState       { return proto.NodeState(v) }
func asClusterState(v uint8) proto.ClusterState { return proto.ClusterState(v) }

// snapshot is the JSON-serializable form of FSM state persisted by raft's
// periodic log compaction and replayed on Restore.
type snapshot struct {
	Nodes    []cluster.Node
	PTID     ids.PTID
	Rows     map[uint32][]cluster.Cell
	State    proto.ClusterState
	LastOID  ids.OID
	InFlight []ids.TID
}

// Snapshot captures the FSM's full state for raft's log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ptid, rows := f.pt.Snapshot()
	s := &snapshot{
		Nodes:   f.nodes.All(),
		PTID:    ptid,
		Rows:    rows,
		State:   f.state.Current(),
		LastOID: f.lastOID,
	}
	for tid := range f.inFlight {
		s.InFlight = append(s.InFlight, tid)
	}
	return s, nil
}

// Restore replaces the FSM's state wholesale from a previously captured
// snapshot, used when a master joins and must catch up without replaying
// the entire log.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var s snapshot
	if err := json.NewDecoder(rc).Decode(&s); err != nil {
		return fmt.Errorf("master: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodes = cluster.NewNodeManager()
	for _, n := range s.Nodes {
		f.nodes.Upsert(n)
	}
	f.pt.Load(s.PTID, s.Rows)
	f.lastOID = s.LastOID
	f.inFlight = make(map[ids.TID]bool, len(s.InFlight))
	for _, tid := range s.InFlight {
		f.inFlight[tid] = true
	}
	// The snapshot's cluster state is not restored: a restored master starts
	// back in RECOVERING and relies on verification to confirm RUNNING again.
	f.state = cluster.NewStateMachine()
	return nil
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}
