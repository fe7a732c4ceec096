package master

import (
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

// newTestElection bootstraps a single-voter raft instance backed entirely
// by in-memory stores, standing in for Election.Bootstrap's TCP transport
// and on-disk bolt log/stable/snapshot stores so handler tests don't touch
// the filesystem or a socket. It blocks until fsm's node has become leader.
func newTestElection(t *testing.T, uuid string, fsm *FSM) *Election {
	t.Helper()

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(uuid)
	config.HeartbeatTimeout = 50 * time.Millisecond
	config.ElectionTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 25 * time.Millisecond

	_, transport := raft.NewInmemTransport(raft.ServerAddress(uuid))
	store := raft.NewInmemStore()
	snapshots := raft.NewDiscardSnapshotStore()

	r, err := raft.NewRaft(config, fsm, store, store, snapshots, transport)
	require.NoError(t, err)

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	require.NoError(t, future.Error())

	require.Eventually(t, func() bool {
		return r.State() == raft.Leader
	}, 2*time.Second, 5*time.Millisecond, "raft never elected a leader")

	e := &Election{UUID: uuid}
	e.raft = r
	t.Cleanup(func() { _ = r.Shutdown().Error() })
	return e
}
