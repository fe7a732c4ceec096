package proto

// CellState mirrors cluster.CellState on the wire.
type CellState uint8

const (
	CellUpToDate CellState = iota
	CellOutOfDate
	CellFeeding
	CellDiscarded
)

// CellInfo is one (node, state) assignment for one partition.
type CellInfo struct {
	UUID  uint64
	State CellState
}

func (c *CellInfo) Encode(e *Encoder) {
	e.ID(c.UUID)
	e.U8(uint8(c.State))
}

func (c *CellInfo) Decode(d *Decoder) error {
	c.UUID = d.ID()
	c.State = CellState(d.U8())
	return d.Err()
}

// PartitionRow is the full cell set of one partition.
type PartitionRow struct {
	Partition uint32
	Cells     []CellInfo
}

func (r *PartitionRow) Encode(e *Encoder) {
	e.U32(r.Partition)
	e.ListLen(len(r.Cells))
	for _, c := range r.Cells {
		c.Encode(e)
	}
}

func (r *PartitionRow) Decode(d *Decoder) error {
	r.Partition = d.U32()
	n := d.ListLen()
	r.Cells = make([]CellInfo, 0, n)
	for i := 0; i < n; i++ {
		var c CellInfo
		if err := c.Decode(d); err != nil {
			return err
		}
		r.Cells = append(r.Cells, c)
	}
	return d.Err()
}

type AskPartitionTableBody struct{}

func (*AskPartitionTableBody) Encode(*Encoder)      {}
func (*AskPartitionTableBody) Decode(*Decoder) error { return nil }

// AnswerPartitionTableBody is a full-replace snapshot (bootstrap, §4.2 load).
type AnswerPartitionTableBody struct {
	PTID       uint64
	Partitions []PartitionRow
}

func (b *AnswerPartitionTableBody) Encode(e *Encoder) {
	e.ID(b.PTID)
	e.ListLen(len(b.Partitions))
	for _, p := range b.Partitions {
		p.Encode(e)
	}
}

func (b *AnswerPartitionTableBody) Decode(d *Decoder) error {
	b.PTID = d.ID()
	n := d.ListLen()
	b.Partitions = make([]PartitionRow, 0, n)
	for i := 0; i < n; i++ {
		var p PartitionRow
		if err := p.Decode(d); err != nil {
			return err
		}
		b.Partitions = append(b.Partitions, p)
	}
	return d.Err()
}

// PartitionCellChange is one (partition, uuid, new_state) diff entry.
type PartitionCellChange struct {
	Partition uint32
	UUID      uint64
	State     CellState
}

func (c *PartitionCellChange) Encode(e *Encoder) {
	e.U32(c.Partition)
	e.ID(c.UUID)
	e.U8(uint8(c.State))
}

func (c *PartitionCellChange) Decode(d *Decoder) error {
	c.Partition = d.U32()
	c.UUID = d.ID()
	c.State = CellState(d.U8())
	return d.Err()
}

// NotifyPartitionChangesBody is an incremental update; ptid must exceed the
// receiver's current ptid or the whole packet is ignored (§8 property 2).
type NotifyPartitionChangesBody struct {
	PTID  uint64
	Diff  []PartitionCellChange
}

func (b *NotifyPartitionChangesBody) Encode(e *Encoder) {
	e.ID(b.PTID)
	e.ListLen(len(b.Diff))
	for _, c := range b.Diff {
		c.Encode(e)
	}
}

func (b *NotifyPartitionChangesBody) Decode(d *Decoder) error {
	b.PTID = d.ID()
	n := d.ListLen()
	b.Diff = make([]PartitionCellChange, 0, n)
	for i := 0; i < n; i++ {
		var c PartitionCellChange
		if err := c.Decode(d); err != nil {
			return err
		}
		b.Diff = append(b.Diff, c)
	}
	return d.Err()
}
