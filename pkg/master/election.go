package master

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Election wraps a hashicorp/raft instance whose elected leader is the
// cluster's single primary master: the raft leadership protocol substitutes
// for the original lowest-UUID election algorithm, while everything built
// on top (partition table, node table, cluster state machine, TID/OID
// allocation) is replicated through the same log the way the specification
// requires a primary's decisions to be durable across failover.
type Election struct {
	UUID     string
	BindAddr string
	DataDir  string

	raft *raft.Raft
}

// Bootstrap starts raft for a brand-new single-node cluster, or for a node
// joining an already-bootstrapped cluster via raft's own log replication
// once Join has added it as a voter.
func (e *Election) Bootstrap(fsm *FSM, bootstrap bool, peers []raft.Server) error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(e.UUID)

	// Tuned down from raft's WAN-oriented defaults (1s/1s/500ms) for LAN
	// deployments, where sub-second failure detection is achievable.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", e.BindAddr)
	if err != nil {
		return fmt.Errorf("master: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(e.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("master: create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(e.DataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("master: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.DataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("master: create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.DataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("master: create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("master: create raft: %w", err)
	}
	e.raft = r

	if bootstrap {
		servers := []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}}
		servers = append(servers, peers...)
		future := e.raft.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil {
			return fmt.Errorf("master: bootstrap raft cluster: %w", err)
		}
	}

	return nil
}

// AddVoter admits a newly-recovering master to the raft configuration. Only
// the current leader can do this; callers should check IsLeader first.
func (e *Election) AddVoter(uuid, address string) error {
	if e.raft == nil {
		return fmt.Errorf("master: raft not initialized")
	}
	future := e.raft.AddVoter(raft.ServerID(uuid), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer evicts a master (e.g. one an admin has marked broken) from
// the raft configuration.
func (e *Election) RemoveServer(uuid string) error {
	if e.raft == nil {
		return fmt.Errorf("master: raft not initialized")
	}
	future := e.raft.RemoveServer(raft.ServerID(uuid), 0, 10*time.Second)
	return future.Error()
}

// IsPrimary reports whether this master currently holds raft leadership —
// the specification's notion of "the primary master".
func (e *Election) IsPrimary() bool {
	return e.raft != nil && e.raft.State() == raft.Leader
}

// PrimaryAddress returns the bind address of the current raft leader, or
// empty if none is known.
func (e *Election) PrimaryAddress() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}

// PrimaryUUID returns the numeric UUID of the current raft leader, recovered
// from its raft ServerID (masters register with the decimal string of their
// own UUID as LocalID), or ok=false if no leader is currently known.
func (e *Election) PrimaryUUID() (uuid ids.UUID, ok bool) {
	if e.raft == nil {
		return 0, false
	}
	_, id := e.raft.LeaderWithID()
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return ids.UUID(n), true
}

// Apply proposes cmd to the raft log and blocks until it is committed and
// applied, returning the FSM.Apply result (or an error it returned).
func (e *Election) Apply(cmd []byte, timeout time.Duration) (interface{}, error) {
	if e.raft == nil {
		return nil, fmt.Errorf("master: raft not initialized")
	}
	if e.raft.State() != raft.Leader {
		return nil, fmt.Errorf("master: not the primary, current primary is %s", e.PrimaryAddress())
	}
	future := e.raft.Apply(cmd, timeout)
	if err := future.Error(); err != nil {
		return nil, err
	}
	resp := future.Response()
	if err, ok := resp.(error); ok {
		return nil, err
	}
	return resp, nil
}

// Peers returns the number of voters in the current raft configuration, or
// 0 if raft hasn't been started yet.
func (e *Election) Peers() int {
	if e.raft == nil {
		return 0
	}
	future := e.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return 0
	}
	return len(future.Configuration().Servers)
}

// LastIndex returns the raft log's last index.
func (e *Election) LastIndex() uint64 {
	if e.raft == nil {
		return 0
	}
	return e.raft.LastIndex()
}

// AppliedIndex returns the last log index applied to the FSM.
func (e *Election) AppliedIndex() uint64 {
	if e.raft == nil {
		return 0
	}
	return e.raft.AppliedIndex()
}

// Shutdown stops the raft instance.
func (e *Election) Shutdown() error {
	if e.raft == nil {
		return nil
	}
	return e.raft.Shutdown().Error()
}
