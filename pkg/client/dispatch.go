package client

import (
	"context"
	"fmt"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/network"
)

// dispatch resolves which storages currently cover oid and hands back live
// connections to them, via the client's cached partition table and node
// table plus its connection pool. It never itself decides readable vs.
// writable — callers pass that through from cluster.PartitionTable's own
// distinction (an out-of-date cell is writable but not readable).
type dispatch struct {
	pt    *cluster.PartitionTable
	nodes *cluster.NodeManager
	pool  *network.Pool
}

// cellAddresses resolves oid's cells to dialable addresses, skipping any
// cell whose node isn't in the node table (not yet identified, or
// discarded) rather than failing the whole call.
func (d *dispatch) cellAddresses(oid ids.OID, readable, writable bool) []string {
	cells := d.pt.CellsForOID(oid, readable, writable)
	addrs := make([]string, 0, len(cells))
	for _, c := range cells {
		if n, ok := d.nodes.ByUUID(c.Node); ok && n.Address != "" {
			addrs = append(addrs, n.Address)
		}
	}
	return addrs
}

// oneReadable dials the first readable cell for oid willing to accept a
// connection, the replica-selection step of the load algorithm. Real
// deployments would prefer a cell this client most recently talked to
// successfully; a single cluster partition almost always has exactly one
// up-to-date cell in the partitions/replicas range this implementation
// targets, so first-available is the simplest correct policy.
func (d *dispatch) oneReadable(ctx context.Context, oid ids.OID) (*network.Connection, error) {
	addrs := d.cellAddresses(oid, true, false)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: no readable cell for oid %s", oid)
	}
	var lastErr error
	for _, addr := range addrs {
		conn, err := d.pool.Get(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("client: dial readable cells for oid %s: %w", oid, lastErr)
}

// allWritable dials every writable cell for oid, required because a store
// must reach every cell that should eventually hold the new revision
// (up-to-date and out-of-date alike, so feeding storages catch up too).
func (d *dispatch) allWritable(ctx context.Context, oid ids.OID) ([]*network.Connection, error) {
	addrs := d.cellAddresses(oid, false, true)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: no writable cell for oid %s", oid)
	}
	conns := make([]*network.Connection, 0, len(addrs))
	for _, addr := range addrs {
		conn, err := d.pool.Get(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("client: dial writable cell %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// writablePartitionCells returns the writable cells of the distinct
// partitions touched by oids, used to address AskStoreTransaction to every writable cell of every touched
// partition rather than just the cells of each individual oid.
func (d *dispatch) writablePartitionCells(oids []ids.OID) []cluster.Cell {
	seen := make(map[uint32]bool)
	var cells []cluster.Cell
	n := d.pt.NumPartitions()
	for _, oid := range oids {
		p := ids.PartitionOf(oid, n)
		if seen[p] {
			continue
		}
		seen[p] = true
		cells = append(cells, d.pt.CellsForPartition(p, false, true)...)
	}
	return cells
}
