package client

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
	"github.com/stretchr/testify/require"
)

// startFakeNode runs a real TCP listener driven by handlers, mirroring the
// accept loop cmd/neo's serve() runs in production; the client's
// network.Pool dials real sockets, so tests need a real listener rather
// than a net.Pipe pair.
func startFakeNode(t *testing.T, handlers network.HandlerSet) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			network.NewConnection(conn, handlers, time.Minute, time.Minute, zerolog.Nop())
		}
	}()
	return ln.Addr().String()
}

// testHarness wires a fake single-partition, single-replica cluster: one
// master handling identification/topology/begin/barrier/vote/finish, and
// one storage handling AskObject/AskStoreObject/AskStoreTransaction.
type testHarness struct {
	masterAddr  string
	storageAddr string
	storageUUID ids.UUID
	nextTID     uint64

	storedConflicting map[uint64]bool
}

func newTestHarness(t *testing.T) *testHarness {
	h := &testHarness{storageUUID: 42, nextTID: 100, storedConflicting: make(map[uint64]bool)}

	masterHandlers := network.HandlerSet{
		proto.TRequestIdentification: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			var body proto.RequestIdentificationBody
			require.NoError(t, proto.DecodeBody(req.Payload, &body))
			_ = req.Reply(proto.TAcceptIdentification, &proto.AcceptIdentificationBody{
				YourUUID: 7, MyUUID: 1, MyNodeType: proto.NodeTypeMaster,
				NumPartitions: 1, NumReplicas: 1,
			})
		},
		proto.TAskPrimary: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			_ = req.Reply(proto.TAnswerPrimary, &proto.AnswerPrimaryBody{PrimaryUUID: 1})
		},
		proto.TAskClusterNodes: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			_ = req.Reply(proto.TAnswerClusterNodes, &proto.AnswerClusterNodesBody{
				Nodes: []proto.NodeInfo{{UUID: uint64(h.storageUUID), Type: proto.NodeTypeStorage, Address: h.storageAddr, State: proto.NodeStateRunning}},
			})
		},
		proto.TAskPartitionTable: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			_ = req.Reply(proto.TAnswerPartitionTable, &proto.AnswerPartitionTableBody{
				PTID:       1,
				Partitions: []proto.PartitionRow{{Partition: 0, Cells: []proto.CellInfo{{UUID: uint64(h.storageUUID), State: proto.CellUpToDate}}}},
			})
		},
		proto.TAskBarrier: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			_ = req.Reply(proto.TAnswerBarrier, &proto.AnswerBarrierBody{LastTID: 0})
		},
		proto.TAskBeginTransaction: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			h.nextTID++
			_ = req.Reply(proto.TAnswerBeginTransaction, &proto.AnswerBeginTransactionBody{TID: h.nextTID})
		},
		proto.TAskStoreTransaction: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			var body proto.AskStoreTransactionBody
			require.NoError(t, proto.DecodeBody(req.Payload, &body))
			_ = req.Reply(proto.TAnswerStoreTransaction, &proto.AnswerStoreTransactionBody{TID: body.TID})
		},
		proto.TAskFinishTransaction: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			var body proto.AskFinishTransactionBody
			require.NoError(t, proto.DecodeBody(req.Payload, &body))
			_ = req.Reply(proto.TAnswerTransactionFinished, &proto.AnswerTransactionFinishedBody{TID: body.TID})
		},
		proto.TAbortTransaction: func(ctx context.Context, conn *network.Connection, req *network.Request) {},
	}

	storageHandlers := network.HandlerSet{
		proto.TAskStoreObject: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			var body proto.AskStoreObjectBody
			require.NoError(t, proto.DecodeBody(req.Payload, &body))
			if h.storedConflicting[body.OID] {
				_ = req.Reply(proto.TAnswerStoreObject, &proto.AnswerStoreObjectBody{OID: body.OID, Conflicting: true, ConflictSerial: body.TID - 1})
				return
			}
			_ = req.Reply(proto.TAnswerStoreObject, &proto.AnswerStoreObjectBody{OID: body.OID})
		},
		proto.TAskStoreTransaction: func(ctx context.Context, conn *network.Connection, req *network.Request) {
			var body proto.AskStoreTransactionBody
			require.NoError(t, proto.DecodeBody(req.Payload, &body))
			_ = req.Reply(proto.TAnswerStoreTransaction, &proto.AnswerStoreTransactionBody{TID: body.TID})
		},
	}

	h.masterAddr = startFakeNode(t, masterHandlers)
	h.storageAddr = startFakeNode(t, storageHandlers)
	return h
}

func newConnectedClient(t *testing.T, h *testHarness) *Client {
	t.Helper()
	dialer := network.Dialer{PingDelay: time.Minute, PingTimeout: time.Minute, Log: zerolog.Nop()}
	pool := network.NewPool(dialer, 0)
	t.Cleanup(pool.Close)

	self := cluster.Node{Type: proto.NodeTypeClient}
	c := New(pool, "test-cluster", self, []string{h.masterAddr}, false, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	return c
}

func TestCommitHappyPath(t *testing.T) {
	h := newTestHarness(t)
	c := newConnectedClient(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	txn, err := c.Begin(ctx)
	require.NoError(t, err)

	oid := ids.OID(1)
	require.NoError(t, c.Store(ctx, txn, oid, ids.ZeroTID, []byte("hello")))
	require.NoError(t, c.Vote(ctx, txn, nil))

	tid, err := c.Finish(ctx, txn)
	require.NoError(t, err)
	require.Equal(t, txn.TID(), tid)

	data, gotTID, err := c.Load(ctx, oid, tid, ids.ZeroTID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, tid, gotTID)
}

func TestVoteReturnsConflictErrorWithoutResolver(t *testing.T) {
	h := newTestHarness(t)
	h.storedConflicting[1] = true
	c := newConnectedClient(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	txn, err := c.Begin(ctx)
	require.NoError(t, err)

	oid := ids.OID(1)
	require.NoError(t, c.Store(ctx, txn, oid, ids.ZeroTID, []byte("hello")))

	err = c.Vote(ctx, txn, nil)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, oid, conflictErr.OID)
}

func TestVoteResolvesConflictViaResolver(t *testing.T) {
	h := newTestHarness(t)
	h.storedConflicting[1] = true
	c := newConnectedClient(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	txn, err := c.Begin(ctx)
	require.NoError(t, err)

	oid := ids.OID(1)
	require.NoError(t, c.Store(ctx, txn, oid, ids.ZeroTID, []byte("hello")))

	resolveCalls := 0
	resolve := func(o ids.OID, conflictSerial, baseSerial ids.TID, data []byte) ([]byte, bool) {
		resolveCalls++
		h.storedConflicting[uint64(o)] = false
		return append(data, []byte("-merged")...), true
	}

	require.NoError(t, c.Vote(ctx, txn, resolve))
	require.Equal(t, 1, resolveCalls)

	_, err = c.Finish(ctx, txn)
	require.NoError(t, err)
}
