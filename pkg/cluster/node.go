package cluster

import (
	"sync"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/proto"
)

// Node is one participant in the cluster: a master, storage, client, or
// admin, identified by a UUID that is stable for the lifetime of the
// process that owns it.
type Node struct {
	UUID    ids.UUID
	Type    proto.NodeType
	Address string
	State   proto.NodeState
}

// NodeManager tracks every node the local process knows about, indexed by
// both UUID and address so a new connection can be matched against a
// previously announced node before identification completes.
type NodeManager struct {
	mu        sync.RWMutex
	byUUID    map[ids.UUID]*Node
	byAddress map[string]*Node
}

// NewNodeManager returns an empty manager.
func NewNodeManager() *NodeManager {
	return &NodeManager{
		byUUID:    make(map[ids.UUID]*Node),
		byAddress: make(map[string]*Node),
	}
}

// Upsert records or replaces a node's entry.
func (m *NodeManager) Upsert(n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := n
	m.byUUID[n.UUID] = &stored
	if n.Address != "" {
		m.byAddress[n.Address] = &stored
	}
}

// ByUUID returns the node with the given UUID, if known.
func (m *NodeManager) ByUUID(uuid ids.UUID) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byUUID[uuid]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// ByAddress returns the node last seen at the given address, if known.
func (m *NodeManager) ByAddress(address string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byAddress[address]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// SetState updates a node's state in place, used when a liveness check or
// an explicit admin action changes it without otherwise touching the entry.
func (m *NodeManager) SetState(uuid ids.UUID, state proto.NodeState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byUUID[uuid]
	if !ok {
		return false
	}
	n.State = state
	return true
}

// ByType returns every known node of the given type, in no particular order.
func (m *NodeManager) ByType(t proto.NodeType) []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Node
	for _, n := range m.byUUID {
		if n.Type == t {
			out = append(out, *n)
		}
	}
	return out
}

// All returns every known node.
func (m *NodeManager) All() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.byUUID))
	for _, n := range m.byUUID {
		out = append(out, *n)
	}
	return out
}

// ToNodeInfo converts a Node to its wire representation.
func ToNodeInfo(n Node) proto.NodeInfo {
	return proto.NodeInfo{UUID: uint64(n.UUID), Type: n.Type, Address: n.Address, State: n.State}
}

// FromNodeInfo converts a wire NodeInfo back to a Node.
func FromNodeInfo(ni proto.NodeInfo) Node {
	return Node{UUID: ids.UUID(ni.UUID), Type: ni.Type, Address: ni.Address, State: ni.State}
}
