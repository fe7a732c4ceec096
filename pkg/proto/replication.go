package proto

// AskReplicationCriticalTIDBody/AnswerReplicationCriticalTIDBody pin the
// "critical TID" a replicating storage must drain pending transactions up
// to before it starts pulling data from a peer (§4.5 step 1-2).
type AskReplicationCriticalTIDBody struct{}

func (*AskReplicationCriticalTIDBody) Encode(*Encoder)      {}
func (*AskReplicationCriticalTIDBody) Decode(*Decoder) error { return nil }

type AnswerReplicationCriticalTIDBody struct {
	CriticalTID uint64
	PendingTIDs []uint64
}

func (b *AnswerReplicationCriticalTIDBody) Encode(e *Encoder) {
	e.ID(b.CriticalTID)
	e.ListLen(len(b.PendingTIDs))
	for _, t := range b.PendingTIDs {
		e.ID(t)
	}
}

func (b *AnswerReplicationCriticalTIDBody) Decode(d *Decoder) error {
	b.CriticalTID = d.ID()
	n := d.ListLen()
	b.PendingTIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.PendingTIDs = append(b.PendingTIDs, d.ID())
	}
	return d.Err()
}

// NotifyReplicationDoneBody tells the primary a partition has finished
// catching up and its cell may be promoted to up-to-date.
type NotifyReplicationDoneBody struct {
	Partition uint32
}

func (b *NotifyReplicationDoneBody) Encode(e *Encoder) { e.U32(b.Partition) }
func (b *NotifyReplicationDoneBody) Decode(d *Decoder) error {
	b.Partition = d.U32()
	return d.Err()
}
