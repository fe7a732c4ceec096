package master

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage runs a real listener that always answers LockInformation.
func fakeStorage(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	handlers := network.HandlerSet{
		proto.TLockInformation: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			_ = req.Reply(proto.TInformationLocked, &proto.InformationLockedBody{})
		},
		proto.TNotifyUnlockInformation: func(ctx context.Context, conn *network.Connection, req *network.Request) {},
		proto.TAbortTransaction:        func(ctx context.Context, conn *network.Connection, req *network.Request) {},
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			network.NewConnection(c, handlers, time.Minute, time.Minute, zerolog.Nop())
		}
	}()
	return ln.Addr().String()
}

// deadStorageAddress returns an address nothing listens on, so pool.Get
// fails immediately (connection refused) — handlers run with a background
// context with no deadline, so a storage that accepts but never answers
// would hang Ask forever rather than error; only an unreachable address
// reliably exercises the lock-failure path in a test.
func deadStorageAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestServer(t *testing.T, numPartitions uint32) (*Server, *FSM) {
	t.Helper()
	fsm := NewFSM(numPartitions, 2)
	elect := newTestElection(t, "1", fsm)
	pool := network.NewPool(network.Dialer{PingDelay: time.Minute, PingTimeout: time.Minute, Log: zerolog.Nop()}, 0)
	t.Cleanup(pool.Close)
	self := cluster.Node{UUID: 1, Type: proto.NodeTypeMaster, Address: "127.0.0.1:0"}
	return NewServer(fsm, elect, nil, pool, "test-cluster", self, zerolog.Nop()), fsm
}

// askFinish drives handleAskFinishTransaction directly against a locally
// built request/response pair, mirroring how network.Connection would
// invoke it, without needing a master-facing listener.
func askFinish(t *testing.T, s *Server, body *proto.AskFinishTransactionBody) (*proto.AnswerTransactionFinishedBody, error) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	client := network.NewConnection(clientConn, network.HandlerSet{}, time.Minute, time.Minute, zerolog.Nop())
	server := network.NewConnection(serverConn, s.Handlers(), time.Minute, time.Minute, zerolog.Nop())
	t.Cleanup(func() { _ = server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var answer proto.AnswerTransactionFinishedBody
	err := client.Ask(ctx, proto.TAskFinishTransaction, body, &answer)
	return &answer, err
}

func TestFinishTransactionProceedsWhenCoverageSurvivesStorageFailure(t *testing.T) {
	s, fsm := newTestServer(t, 1)

	healthy := fakeStorage(t)
	dead := deadStorageAddress(t)

	_, err := s.elect.Apply(EncodePartitionUpdate(1, []cluster.CellChange{
		{Partition: 0, Node: 10, State: cluster.CellUpToDate},
		{Partition: 0, Node: 11, State: cluster.CellUpToDate},
	}), time.Second)
	require.NoError(t, err)
	fsm.Nodes().Upsert(cluster.Node{UUID: 10, Type: proto.NodeTypeStorage, Address: healthy})
	fsm.Nodes().Upsert(cluster.Node{UUID: 11, Type: proto.NodeTypeStorage, Address: dead})

	_, err = s.elect.Apply(EncodeBeginTransaction(ids.TID(500)), time.Second)
	require.NoError(t, err)

	answer, err := askFinish(t, s, &proto.AskFinishTransactionBody{TID: 500, OIDs: []uint64{1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), answer.TID)

	cells := fsm.PartitionTable().CellsForPartition(0, false, true)
	var node11State cluster.CellState
	for _, c := range cells {
		if c.Node == 11 {
			node11State = c.State
		}
	}
	assert.Equal(t, cluster.CellOutOfDate, node11State, "the failed storage's cell must be demoted, not left up-to-date")
}

func TestFinishTransactionAbortsWhenCoverageLost(t *testing.T) {
	s, fsm := newTestServer(t, 1)

	dead := deadStorageAddress(t)
	_, err := s.elect.Apply(EncodePartitionUpdate(1, []cluster.CellChange{
		{Partition: 0, Node: 11, State: cluster.CellUpToDate},
	}), time.Second)
	require.NoError(t, err)
	fsm.Nodes().Upsert(cluster.Node{UUID: 11, Type: proto.NodeTypeStorage, Address: dead})

	_, err = s.elect.Apply(EncodeBeginTransaction(ids.TID(501)), time.Second)
	require.NoError(t, err)

	_, err = askFinish(t, s, &proto.AskFinishTransactionBody{TID: 501, OIDs: []uint64{1}})
	assert.Error(t, err, "the only cell for the touched partition failed, so the commit must abort")
}

func TestAskPrimaryReportsActualLeaderNotSelf(t *testing.T) {
	fsm := NewFSM(1, 1)
	elect := newTestElection(t, "7", fsm)
	pool := network.NewPool(network.Dialer{PingDelay: time.Minute, PingTimeout: time.Minute, Log: zerolog.Nop()}, 0)
	t.Cleanup(pool.Close)

	// self.UUID deliberately does not match the raft leader's UUID (7), so
	// a naive "always answer with myself" implementation would be caught.
	self := cluster.Node{UUID: 999, Type: proto.NodeTypeMaster, Address: "127.0.0.1:1"}
	s := NewServer(fsm, elect, nil, pool, "test-cluster", self, zerolog.Nop())

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	client := network.NewConnection(clientConn, network.HandlerSet{}, time.Minute, time.Minute, zerolog.Nop())
	server := network.NewConnection(serverConn, s.Handlers(), time.Minute, time.Minute, zerolog.Nop())
	t.Cleanup(func() { _ = server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var answer proto.AnswerPrimaryBody
	require.NoError(t, client.Ask(ctx, proto.TAskPrimary, &proto.AskPrimaryBody{}, &answer))
	assert.EqualValues(t, 7, answer.PrimaryUUID)
}
