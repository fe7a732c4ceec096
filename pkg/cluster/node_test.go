package cluster

import (
	"testing"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/stretchr/testify/assert"
)

func TestNodeManagerUpsertAndLookup(t *testing.T) {
	nm := NewNodeManager()
	nm.Upsert(Node{UUID: 1, Type: proto.NodeTypeStorage, Address: "10.0.0.1:9000", State: proto.NodeStateRunning})

	byUUID, ok := nm.ByUUID(1)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1:9000", byUUID.Address)

	byAddr, ok := nm.ByAddress("10.0.0.1:9000")
	assert.True(t, ok)
	assert.Equal(t, ids.UUID(1), byAddr.UUID)

	_, ok = nm.ByUUID(99)
	assert.False(t, ok)
}

func TestNodeManagerSetState(t *testing.T) {
	nm := NewNodeManager()
	nm.Upsert(Node{UUID: 1, Type: proto.NodeTypeMaster, State: proto.NodeStateRunning})
	assert.True(t, nm.SetState(1, proto.NodeStateDown))

	n, _ := nm.ByUUID(1)
	assert.Equal(t, proto.NodeStateDown, n.State)

	assert.False(t, nm.SetState(99, proto.NodeStateDown))
}

func TestNodeManagerByType(t *testing.T) {
	nm := NewNodeManager()
	nm.Upsert(Node{UUID: 1, Type: proto.NodeTypeStorage})
	nm.Upsert(Node{UUID: 2, Type: proto.NodeTypeStorage})
	nm.Upsert(Node{UUID: 3, Type: proto.NodeTypeMaster})

	storages := nm.ByType(proto.NodeTypeStorage)
	assert.Len(t, storages, 2)
}

func TestNodeInfoRoundTrip(t *testing.T) {
	n := Node{UUID: 5, Type: proto.NodeTypeClient, Address: "a:1", State: proto.NodeStateRunning}
	info := ToNodeInfo(n)
	back := FromNodeInfo(info)
	assert.Equal(t, n, back)
}
