package proto

// AskClusterNodesBody/AnswerClusterNodesBody back the admin node's "list
// nodes" query.
type AskClusterNodesBody struct{}

func (*AskClusterNodesBody) Encode(*Encoder)      {}
func (*AskClusterNodesBody) Decode(*Decoder) error { return nil }

type AnswerClusterNodesBody struct {
	Nodes []NodeInfo
}

func (b *AnswerClusterNodesBody) Encode(e *Encoder) {
	e.ListLen(len(b.Nodes))
	for _, n := range b.Nodes {
		n.Encode(e)
	}
}

func (b *AnswerClusterNodesBody) Decode(d *Decoder) error {
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

// AskSetNodeStateBody forwards an admin's set-node-state action to the
// primary, with request-id translation handled by the admin node rather
// than the wire schema (the reply goes back to the admin's own msg_id).
type AskSetNodeStateBody struct {
	UUID  uint64
	State NodeState
}

func (b *AskSetNodeStateBody) Encode(e *Encoder) {
	e.ID(b.UUID)
	e.U8(uint8(b.State))
}

func (b *AskSetNodeStateBody) Decode(d *Decoder) error {
	b.UUID = d.ID()
	b.State = NodeState(d.U8())
	return d.Err()
}

type AskAddPendingNodesBody struct {
	UUIDs []uint64
}

func (b *AskAddPendingNodesBody) Encode(e *Encoder) {
	e.ListLen(len(b.UUIDs))
	for _, u := range b.UUIDs {
		e.ID(u)
	}
}

func (b *AskAddPendingNodesBody) Decode(d *Decoder) error {
	n := d.ListLen()
	b.UUIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.UUIDs = append(b.UUIDs, d.ID())
	}
	return d.Err()
}

type AskCheckReplicasBody struct {
	Partitions []uint32
}

func (b *AskCheckReplicasBody) Encode(e *Encoder) {
	e.ListLen(len(b.Partitions))
	for _, p := range b.Partitions {
		e.U32(p)
	}
}

func (b *AskCheckReplicasBody) Decode(d *Decoder) error {
	n := d.ListLen()
	b.Partitions = make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		b.Partitions = append(b.Partitions, d.U32())
	}
	return d.Err()
}
