package proto

// NodeType is a node's role on the wire. Package cluster imports proto and
// uses this type directly; proto does not import cluster.
type NodeType uint8

const (
	NodeTypeMaster NodeType = iota
	NodeTypeStorage
	NodeTypeClient
	NodeTypeAdmin
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeMaster:
		return "master"
	case NodeTypeStorage:
		return "storage"
	case NodeTypeClient:
		return "client"
	case NodeTypeAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// NodeState is a node's state on the wire; package cluster uses it directly.
type NodeState uint8

const (
	NodeStateRunning NodeState = iota
	NodeStateTemporarilyDown
	NodeStateDown
	NodeStateBroken
	NodeStateHidden
	NodeStatePending
	NodeStateUnknown
)

func (s NodeState) String() string {
	switch s {
	case NodeStateRunning:
		return "running"
	case NodeStateTemporarilyDown:
		return "temporarily_down"
	case NodeStateDown:
		return "down"
	case NodeStateBroken:
		return "broken"
	case NodeStateHidden:
		return "hidden"
	case NodeStatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// RequestIdentificationBody is a peer's identification request. Neither
// the master's nor the storage's handler set requires it before other
// packets.
type RequestIdentificationBody struct {
	NodeType    NodeType
	UUID        uint64 // ZeroUUID if not yet assigned
	Address     string
	ClusterName string
}

func (b *RequestIdentificationBody) Encode(e *Encoder) {
	e.U8(uint8(b.NodeType))
	e.ID(b.UUID)
	e.Str(b.Address)
	e.Str(b.ClusterName)
}

func (b *RequestIdentificationBody) Decode(d *Decoder) error {
	b.NodeType = NodeType(d.U8())
	b.UUID = d.ID()
	b.Address = d.Str()
	b.ClusterName = d.Str()
	return d.Err()
}

// AcceptIdentificationBody answers a successful identification, handing the
// peer its assigned UUID (minted by the primary master the first time a
// node identifies with ZeroUUID) and the identity of whoever answered.
type AcceptIdentificationBody struct {
	YourUUID   uint64
	MyUUID     uint64
	MyNodeType NodeType
	NumPartitions uint32
	NumReplicas   uint32
}

func (b *AcceptIdentificationBody) Encode(e *Encoder) {
	e.ID(b.YourUUID)
	e.ID(b.MyUUID)
	e.U8(uint8(b.MyNodeType))
	e.U32(b.NumPartitions)
	e.U32(b.NumReplicas)
}

func (b *AcceptIdentificationBody) Decode(d *Decoder) error {
	b.YourUUID = d.ID()
	b.MyUUID = d.ID()
	b.MyNodeType = NodeType(d.U8())
	b.NumPartitions = d.U32()
	b.NumReplicas = d.U32()
	return d.Err()
}
