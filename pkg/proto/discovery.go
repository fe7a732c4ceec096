package proto

// AskPrimaryBody/AnswerPrimaryBody let any peer ask a master which master is
// primary: the answer carries the primary's uuid and the masters the
// answering node knows. A master that knows of no primary replies
// ECNotReady instead.
type AskPrimaryBody struct{}

func (*AskPrimaryBody) Encode(*Encoder)      {}
func (*AskPrimaryBody) Decode(*Decoder) error { return nil }

type AnswerPrimaryBody struct {
	PrimaryUUID uint64
	KnownMasters []NodeInfo
}

func (b *AnswerPrimaryBody) Encode(e *Encoder) {
	e.ID(b.PrimaryUUID)
	e.ListLen(len(b.KnownMasters))
	for _, n := range b.KnownMasters {
		n.Encode(e)
	}
}

func (b *AnswerPrimaryBody) Decode(d *Decoder) error {
	b.PrimaryUUID = d.ID()
	n := d.ListLen()
	b.KnownMasters = make([]NodeInfo, 0, n)
	for i := 0; i < n; i++ {
		var ni NodeInfo
		if err := ni.Decode(d); err != nil {
			return err
		}
		b.KnownMasters = append(b.KnownMasters, ni)
	}
	return d.Err()
}

// ReelectPrimaryBody forces every master to drop its election state and
// restart; it carries no fields, it is purely a notification.
type ReelectPrimaryBody struct{}

func (*ReelectPrimaryBody) Encode(*Encoder)      {}
func (*ReelectPrimaryBody) Decode(*Decoder) error { return nil }

// NodeInfo is the wire shape of a single node record, used both in
// NotifyNodeInformation broadcasts and in partition-table / cluster
// snapshots.
type NodeInfo struct {
	UUID    uint64
	Type    NodeType
	Address string
	State   NodeState
}

func (n *NodeInfo) Encode(e *Encoder) {
	e.ID(n.UUID)
	e.U8(uint8(n.Type))
	e.Str(n.Address)
	e.U8(uint8(n.State))
}

func (n *NodeInfo) Decode(d *Decoder) error {
	n.UUID = d.ID()
	n.Type = NodeType(d.U8())
	n.Address = d.Str()
	n.State = NodeState(d.U8())
	return d.Err()
}

// NotifyNodeInformationBody broadcasts a batch of node-state changes.
type NotifyNodeInformationBody struct {
	Nodes []NodeInfo
}

func (b *NotifyNodeInformationBody) Encode(e *Encoder) {
	e.ListLen(len(b.Nodes))
	for _, n := range b.Nodes {
		n.Encode(e)
	}
}

func (b *NotifyNodeInformationBody) Decode(d *Decoder) error {
	n := d.ListLen()
	b.Nodes = make([]NodeInfo, 0, n)
	for i := 0; i < n; i++ {
		var ni NodeInfo
		if err := ni.Decode(d); err != nil {
			return err
		}
		b.Nodes = append(b.Nodes, ni)
	}
	return d.Err()
}

// ClusterState mirrors the primary master's cluster-wide state machine.
type ClusterState uint8

const (
	ClusterRecovering ClusterState = iota
	ClusterVerifying
	ClusterRunning
	ClusterStopping
)

func (s ClusterState) String() string {
	switch s {
	case ClusterRecovering:
		return "RECOVERING"
	case ClusterVerifying:
		return "VERIFYING"
	case ClusterRunning:
		return "RUNNING"
	case ClusterStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

type AskClusterStateBody struct{}

func (*AskClusterStateBody) Encode(*Encoder)      {}
func (*AskClusterStateBody) Decode(*Decoder) error { return nil }

type AnswerClusterStateBody struct {
	State ClusterState
}

func (b *AnswerClusterStateBody) Encode(e *Encoder) { e.U8(uint8(b.State)) }
func (b *AnswerClusterStateBody) Decode(d *Decoder) error {
	b.State = ClusterState(d.U8())
	return d.Err()
}

type SetClusterStateBody struct {
	State ClusterState
}

func (b *SetClusterStateBody) Encode(e *Encoder) { e.U8(uint8(b.State)) }
func (b *SetClusterStateBody) Decode(d *Decoder) error {
	b.State = ClusterState(d.U8())
	return d.Err()
}
