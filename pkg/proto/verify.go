package proto

type AskLastIDsBody struct{}

func (*AskLastIDsBody) Encode(*Encoder)      {}
func (*AskLastIDsBody) Decode(*Decoder) error { return nil }

type AnswerLastIDsBody struct {
	LastTID  uint64
	LastPTID uint64
	LastOID  uint64
}

func (b *AnswerLastIDsBody) Encode(e *Encoder) {
	e.ID(b.LastTID)
	e.ID(b.LastPTID)
	e.ID(b.LastOID)
}

func (b *AnswerLastIDsBody) Decode(d *Decoder) error {
	b.LastTID = d.ID()
	b.LastPTID = d.ID()
	b.LastOID = d.ID()
	return d.Err()
}

type AskTIDsBody struct {
	First      uint32
	Last       uint32
	Partitions []uint32
}

func (b *AskTIDsBody) Encode(e *Encoder) {
	e.U32(b.First)
	e.U32(b.Last)
	e.ListLen(len(b.Partitions))
	for _, p := range b.Partitions {
		e.U32(p)
	}
}

func (b *AskTIDsBody) Decode(d *Decoder) error {
	b.First = d.U32()
	b.Last = d.U32()
	n := d.ListLen()
	b.Partitions = make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		b.Partitions = append(b.Partitions, d.U32())
	}
	return d.Err()
}

type AnswerTIDsBody struct {
	TIDs []uint64
}

func (b *AnswerTIDsBody) Encode(e *Encoder) {
	e.ListLen(len(b.TIDs))
	for _, t := range b.TIDs {
		e.ID(t)
	}
}

func (b *AnswerTIDsBody) Decode(d *Decoder) error {
	n := d.ListLen()
	b.TIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.TIDs = append(b.TIDs, d.ID())
	}
	return d.Err()
}

type AskUnfinishedTransactionsBody struct{}

func (*AskUnfinishedTransactionsBody) Encode(*Encoder)      {}
func (*AskUnfinishedTransactionsBody) Decode(*Decoder) error { return nil }

type AnswerUnfinishedTransactionsBody struct {
	MaxTID uint64
	TIDs   []uint64
}

func (b *AnswerUnfinishedTransactionsBody) Encode(e *Encoder) {
	e.ID(b.MaxTID)
	e.ListLen(len(b.TIDs))
	for _, t := range b.TIDs {
		e.ID(t)
	}
}

func (b *AnswerUnfinishedTransactionsBody) Decode(d *Decoder) error {
	b.MaxTID = d.ID()
	n := d.ListLen()
	b.TIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.TIDs = append(b.TIDs, d.ID())
	}
	return d.Err()
}

// DeleteTransactionBody/CommitTransactionBody are the primary's verification
// decisions, driving a storage from VERIFYING towards RUNNING.
type DeleteTransactionBody struct {
	TID uint64
}

func (b *DeleteTransactionBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *DeleteTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

type CommitTransactionBody struct {
	TID uint64
}

func (b *CommitTransactionBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *CommitTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

// AskPackBody/AnswerPackBody name a pack of object revisions older than tid.
// A storage answers Success=true without discarding any revision.
type AskPackBody struct {
	TID uint64
}

func (b *AskPackBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *AskPackBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

type AnswerPackBody struct {
	Success bool
}

func (b *AnswerPackBody) Encode(e *Encoder) { e.Bool(b.Success) }
func (b *AnswerPackBody) Decode(d *Decoder) error {
	b.Success = d.Bool()
	return d.Err()
}
