// Package admin is the thin control-plane client every "neo admin" command
// proxies through: it dials a master, issues one Ask, and translates the
// reply back to the caller. It holds no cluster state of its own — the
// primary master remains the sole source of truth.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
)

// Client is a short-lived connection to one master, used for one admin
// action at a time (list nodes, change a node's state, seed pending nodes,
// check replica health). Unlike the object-store client, it keeps no
// cache and no transaction state.
type Client struct {
	pool    *network.Pool
	address string
	timeout time.Duration
}

// New builds an admin Client that dials address on demand through pool.
func New(pool *network.Pool, address string, timeout time.Duration) *Client {
	return &Client{pool: pool, address: address, timeout: timeout}
}

func (c *Client) ask(ptype proto.Type, body, answer proto.Body) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	conn, err := c.pool.Get(ctx, c.address)
	if err != nil {
		return fmt.Errorf("admin: dial %s: %w", c.address, err)
	}
	return conn.Ask(ctx, ptype, body, answer)
}

// ListNodes returns every node the master's node table knows about.
func (c *Client) ListNodes() ([]proto.NodeInfo, error) {
	var answer proto.AnswerClusterNodesBody
	if err := c.ask(proto.TAskClusterNodes, &proto.AskClusterNodesBody{}, &answer); err != nil {
		return nil, err
	}
	return answer.Nodes, nil
}

// SetNodeState forces a node's recorded state, the admin override used
// e.g. to mark a storage BROKEN so the cluster stops scheduling cells to
// it pending manual intervention.
func (c *Client) SetNodeState(uuid uint64, state proto.NodeState) error {
	var ack proto.AckBody
	return c.ask(proto.TAskSetNodeState, &proto.AskSetNodeStateBody{UUID: uuid, State: state}, &ack)
}

// AddPendingNodes admits freshly-identified storages into the partition
// table's feeding process.
func (c *Client) AddPendingNodes(uuids []uint64) error {
	var ack proto.AckBody
	return c.ask(proto.TAskAddPendingNodes, &proto.AskAddPendingNodesBody{UUIDs: uuids}, &ack)
}

// CheckReplicas asks whether every cell of each given partition is
// up-to-date, returning an error naming any partition that is not.
func (c *Client) CheckReplicas(partitions []uint32) error {
	var ack proto.AckBody
	return c.ask(proto.TAskCheckReplicas, &proto.AskCheckReplicasBody{Partitions: partitions}, &ack)
}

// Dialer builds the network.Dialer an admin client uses: no inbound
// handlers, since it only ever originates Asks.
func Dialer(log zerolog.Logger, pingDelay, pingTimeout time.Duration) network.Dialer {
	return network.Dialer{PingDelay: pingDelay, PingTimeout: pingTimeout, Log: log, Handlers: network.HandlerSet{}}
}
