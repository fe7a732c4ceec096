// Package client implements the NEO object-store client: per-transaction
// contexts, replica dispatch, MVCC caching and the two-phase commit
// protocol's client-side half (tpc_begin/store/vote/finish/abort).
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"
)

// Resolver merges a store conflict: given the oid, the serial that already
// won, the base serial the caller originally read from, and the data it
// tried to store, it returns merged data to retry with, or ok=false to
// give up (the default resolver always returns false).
type Resolver func(oid ids.OID, conflictSerial, baseSerial ids.TID, data []byte) (merged []byte, ok bool)

func defaultResolver(ids.OID, ids.TID, ids.TID, []byte) ([]byte, bool) { return nil, false }

// Client is one object-store client: it owns a connection pool, a cached
// view of the partition and node tables (refreshed at Connect and whenever
// a NotifyPartitionChanges/NotifyNodeInformation would arrive, were a
// listener goroutine running — this implementation resolves them lazily,
// on RefreshTopology, rather than via a persistent push subscription), an
// MVCC Cache shared by every transaction, and the primary master
// connection used for begin/new-oid/finish/abort/barrier.
//
// Locking follows the mandated order load_lock -> oid_lock -> cache_lock
// -> connecting_to_master_lock: Load takes loadMu before touching the
// cache; Cache's own lock (cache_lock) is always the innermost of the two;
// masterMu (connecting_to_master_lock) is taken last, only around reads and
// writes of the cached primary connection; it is released before any dial.
type Client struct {
	pool        *network.Pool
	clusterName string
	self        cluster.Node
	log         zerolog.Logger

	masterAddrs []string
	masterMu    sync.Mutex
	master      *network.Connection

	pt    *cluster.PartitionTable
	nodes *cluster.NodeManager
	disp  *dispatch

	cache *Cache

	loadMu sync.Mutex

	Compress bool
}

// New constructs a Client. Connect must be called before Load/Store/etc.
func New(pool *network.Pool, clusterName string, self cluster.Node, masterAddrs []string, compress bool, log zerolog.Logger) *Client {
	nodes := cluster.NewNodeManager()
	return &Client{
		pool:        pool,
		clusterName: clusterName,
		self:        self,
		log:         log,
		masterAddrs: masterAddrs,
		nodes:       nodes,
		cache:       NewCache(),
		Compress:    compress,
	}
}

// Connect identifies with the primary master, learns the cluster's node and
// partition tables, and wires the dispatcher. It must succeed before any
// other Client method is used.
func (c *Client) Connect(ctx context.Context) error {
	conn, accept, err := c.discoverPrimary(ctx)
	if err != nil {
		return err
	}
	c.self.UUID = ids.UUID(accept.YourUUID)

	c.pt = cluster.NewPartitionTable(accept.NumPartitions, accept.NumReplicas)
	c.disp = &dispatch{pt: c.pt, nodes: c.nodes, pool: c.pool}

	c.masterMu.Lock()
	c.master = conn
	c.masterMu.Unlock()

	return c.RefreshTopology(ctx)
}

// RefreshTopology re-fetches the node and partition tables from the
// primary, the lazy substitute for a persistent push subscription.
func (c *Client) RefreshTopology(ctx context.Context) error {
	var nodesAnswer proto.AnswerClusterNodesBody
	if err := c.askMaster(ctx, proto.TAskClusterNodes, &proto.AskClusterNodesBody{}, &nodesAnswer); err != nil {
		return fmt.Errorf("client: refresh nodes: %w", err)
	}
	for _, ni := range nodesAnswer.Nodes {
		c.nodes.Upsert(cluster.FromNodeInfo(ni))
	}

	var ptAnswer proto.AnswerPartitionTableBody
	if err := c.askMaster(ctx, proto.TAskPartitionTable, &proto.AskPartitionTableBody{}, &ptAnswer); err != nil {
		return fmt.Errorf("client: refresh partition table: %w", err)
	}
	rows := make(map[uint32][]cluster.Cell, len(ptAnswer.Partitions))
	for _, row := range ptAnswer.Partitions {
		cells := make([]cluster.Cell, 0, len(row.Cells))
		for _, cellInfo := range row.Cells {
			cells = append(cells, cluster.Cell{Node: ids.UUID(cellInfo.UUID), State: cluster.CellState(cellInfo.State)})
		}
		rows[row.Partition] = cells
	}
	c.pt.Load(ids.PTID(ptAnswer.PTID), rows)
	return nil
}

// identify runs the RequestIdentification handshake against conn and
// returns the peer's answer.
func (c *Client) identify(ctx context.Context, conn *network.Connection) (*proto.AcceptIdentificationBody, error) {
	var accept proto.AcceptIdentificationBody
	req := &proto.RequestIdentificationBody{
		NodeType:    proto.NodeTypeClient,
		UUID:        uint64(c.self.UUID),
		Address:     c.self.Address,
		ClusterName: c.clusterName,
	}
	if err := conn.Ask(ctx, proto.TRequestIdentification, req, &accept); err != nil {
		return nil, fmt.Errorf("client: identify: %w", err)
	}
	return &accept, nil
}

// discoverPrimary dials each known master address, identifies with it, and
// asks it who the primary is, growing masterAddrs with any address it
// learns of along the way. It returns the connection to whichever master
// confirms its own UUID matches the reported primary.
func (c *Client) discoverPrimary(ctx context.Context) (*network.Connection, *proto.AcceptIdentificationBody, error) {
	c.masterMu.Lock()
	addrs := append([]string(nil), c.masterAddrs...)
	c.masterMu.Unlock()

	var lastErr error
	for i := 0; i < len(addrs); i++ {
		addr := addrs[i]
		conn, err := c.pool.Get(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}
		accept, err := c.identify(ctx, conn)
		if err != nil {
			lastErr = err
			continue
		}
		var primary proto.AnswerPrimaryBody
		if err := conn.Ask(ctx, proto.TAskPrimary, &proto.AskPrimaryBody{}, &primary); err != nil {
			lastErr = err
			continue
		}
		for _, ni := range primary.KnownMasters {
			known := false
			for _, a := range addrs {
				if a == ni.Address {
					known = true
					break
				}
			}
			if !known && ni.Address != "" {
				addrs = append(addrs, ni.Address)
			}
		}
		if primary.PrimaryUUID == accept.MyUUID {
			c.masterMu.Lock()
			c.masterAddrs = addrs
			c.masterMu.Unlock()
			return conn, accept, nil
		}
	}
	return nil, nil, fmt.Errorf("client: no reachable primary master: %w", lastErr)
}

// invalidateMaster drops the cached master connection, forcing the next
// askMaster call to rediscover the primary.
func (c *Client) invalidateMaster() {
	c.masterMu.Lock()
	c.master = nil
	c.masterMu.Unlock()
}

func (c *Client) dialMaster(ctx context.Context) (*network.Connection, error) {
	c.masterMu.Lock()
	if c.master != nil {
		select {
		case <-c.master.Done():
		default:
			conn := c.master
			c.masterMu.Unlock()
			return conn, nil
		}
	}
	c.masterMu.Unlock()

	conn, _, err := c.discoverPrimary(ctx)
	if err != nil {
		return nil, err
	}
	c.masterMu.Lock()
	c.master = conn
	c.masterMu.Unlock()
	return conn, nil
}

// askMaster issues an Ask against the current primary, rediscovering and
// retrying once if the peer answers ECNotPrimary (it was the primary when
// dialed but lost leadership, or never held it).
func (c *Client) askMaster(ctx context.Context, ptype proto.Type, body proto.Body, answer proto.Body) error {
	conn, err := c.dialMaster(ctx)
	if err != nil {
		return err
	}
	err = conn.Ask(ctx, ptype, body, answer)
	var remoteErr *network.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Code == proto.ECNotPrimary {
		c.invalidateMaster()
		conn, err = c.dialMaster(ctx)
		if err != nil {
			return err
		}
		err = conn.Ask(ctx, ptype, body, answer)
	}
	return err
}

// Begin allocates a fresh TID and returns the TxnContext every subsequent
// Store/Vote/Finish/Abort call for this transaction takes.
func (c *Client) Begin(ctx context.Context) (*TxnContext, error) {
	conn, err := c.dialMaster(ctx)
	if err != nil {
		return nil, err
	}
	var answer proto.AnswerBeginTransactionBody
	if err := conn.Ask(ctx, proto.TAskBeginTransaction, &proto.AskBeginTransactionBody{}, &answer); err != nil {
		return nil, fmt.Errorf("client: begin transaction: %w", err)
	}

	// The barrier round-trip returns the primary's last allocated TID. It
	// does not drain InvalidateObjects: the primary sends those on its own
	// connections to the client's advertised address (see
	// pkg/master/handlers.go's handleAskBarrier), and they reach the cache
	// only through Invalidate, independently of this reply.
	var barrier proto.AnswerBarrierBody
	if err := conn.Ask(ctx, proto.TAskBarrier, &proto.AskBarrierBody{}, &barrier); err != nil {
		return nil, fmt.Errorf("client: barrier: %w", err)
	}

	txn := newTxnContext(ids.TID(answer.TID))
	txn.barrierDone = true
	return txn, nil
}

// NewOIDs allocates count fresh OIDs from the primary.
func (c *Client) NewOIDs(ctx context.Context, count uint32) ([]ids.OID, error) {
	var answer proto.AnswerNewOIDsBody
	if err := c.askMaster(ctx, proto.TAskNewOIDs, &proto.AskNewOIDsBody{Count: count}, &answer); err != nil {
		return nil, fmt.Errorf("client: new oids: %w", err)
	}
	out := make([]ids.OID, len(answer.OIDs))
	for i, raw := range answer.OIDs {
		out[i] = ids.OID(raw)
	}
	return out, nil
}

// checksum is the content-addressing hash the storage layer uses to dedup
// object data, shared here so the client computes the same value it will
// later verify on load.
func checksum(data []byte) uint64 { return xxhash.Sum64(data) }

const compressionMinSaving = 1 // bytes; any saving at all is worth it

// maybeCompress lz4-block-compresses data when it actually shrinks it. The
// block format carries no length of its own, so the wire payload is a
// 4-byte big-endian original length followed by the compressed block;
// decompress below reverses exactly that framing.
func maybeCompress(data []byte, enabled bool) (payload []byte, compressed bool) {
	if !enabled || len(data) == 0 {
		return data, false
	}
	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, bound)
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, dst)
	if err != nil || n == 0 || 4+n > len(data)-compressionMinSaving {
		return data, false
	}
	framed := make([]byte, 4+n)
	binary.BigEndian.PutUint32(framed, uint32(len(data)))
	copy(framed[4:], dst[:n])
	return framed, true
}

func decompress(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("client: decompress: payload too short")
	}
	originalSize := binary.BigEndian.Uint32(payload[:4])
	dst := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(payload[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("client: decompress: %w", err)
	}
	return dst[:n], nil
}

// Close releases the client's pooled connections.
func (c *Client) Close() { c.pool.Close() }

// dialTimeout is a ten-second round-trip bound. No Client method applies
// it: every Ask is bounded only by the context its caller passes.
const dialTimeout = 10 * time.Second
