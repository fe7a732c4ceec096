package proto

// AskObjectBody requests a revision of oid: either the exact tid, or the
// newest revision strictly before before_tid, or (both zero) the latest.
type AskObjectBody struct {
	OID       uint64
	ExactTID  uint64
	BeforeTID uint64
}

func (b *AskObjectBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.ID(b.ExactTID)
	e.ID(b.BeforeTID)
}

func (b *AskObjectBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	b.ExactTID = d.ID()
	b.BeforeTID = d.ID()
	return d.Err()
}

// AnswerObjectBody is the matching revision. NextTID is zero when the
// revision is still the latest (open-ended validity range).
type AnswerObjectBody struct {
	OID         uint64
	Serial      uint64
	NextTID     uint64
	Compression bool
	Checksum    uint64
	Data        []byte
	DataTID     uint64
}

func (b *AnswerObjectBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.ID(b.Serial)
	e.ID(b.NextTID)
	e.Bool(b.Compression)
	e.U64(b.Checksum)
	e.Blob(b.Data)
	e.ID(b.DataTID)
}

func (b *AnswerObjectBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	b.Serial = d.ID()
	b.NextTID = d.ID()
	b.Compression = d.Bool()
	b.Checksum = d.U64()
	b.Data = d.Blob()
	b.DataTID = d.ID()
	return d.Err()
}

type AskObjectHistoryBody struct {
	OID         uint64
	FirstOffset uint32
	Count       uint32
}

func (b *AskObjectHistoryBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.U32(b.FirstOffset)
	e.U32(b.Count)
}

func (b *AskObjectHistoryBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	b.FirstOffset = d.U32()
	b.Count = d.U32()
	return d.Err()
}

// HistoryEntry is one (tid, size) pair in an object's revision history.
type HistoryEntry struct {
	TID  uint64
	Size uint32
}

func (h *HistoryEntry) Encode(e *Encoder) {
	e.ID(h.TID)
	e.U32(h.Size)
}

func (h *HistoryEntry) Decode(d *Decoder) error {
	h.TID = d.ID()
	h.Size = d.U32()
	return d.Err()
}

type AnswerObjectHistoryBody struct {
	OID     uint64
	History []HistoryEntry
}

func (b *AnswerObjectHistoryBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.ListLen(len(b.History))
	for _, h := range b.History {
		h.Encode(e)
	}
}

func (b *AnswerObjectHistoryBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	n := d.ListLen()
	b.History = make([]HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		var h HistoryEntry
		if err := h.Decode(d); err != nil {
			return err
		}
		b.History = append(b.History, h)
	}
	return d.Err()
}

// AskObjectUndoSerialBody asks, for each oid, what undoing undone_tid would
// mean for that oid's current state (§4.4 undo).
type AskObjectUndoSerialBody struct {
	TID       uint64
	UndoneTID uint64
	OIDs      []uint64
}

func (b *AskObjectUndoSerialBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.ID(b.UndoneTID)
	e.ListLen(len(b.OIDs))
	for _, o := range b.OIDs {
		e.ID(o)
	}
}

func (b *AskObjectUndoSerialBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	b.UndoneTID = d.ID()
	n := d.ListLen()
	b.OIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.OIDs = append(b.OIDs, d.ID())
	}
	return d.Err()
}

// UndoSerialEntry carries, per oid, whether undone_tid is still the
// current revision (IsCurrent) plus the current and pre-undo serials.
type UndoSerialEntry struct {
	OID           uint64
	CurrentSerial uint64
	UndoSerial    uint64
	IsCurrent     bool
}

func (u *UndoSerialEntry) Encode(e *Encoder) {
	e.ID(u.OID)
	e.ID(u.CurrentSerial)
	e.ID(u.UndoSerial)
	e.Bool(u.IsCurrent)
}

func (u *UndoSerialEntry) Decode(d *Decoder) error {
	u.OID = d.ID()
	u.CurrentSerial = d.ID()
	u.UndoSerial = d.ID()
	u.IsCurrent = d.Bool()
	return d.Err()
}

type AnswerObjectUndoSerialBody struct {
	Entries []UndoSerialEntry
}

func (b *AnswerObjectUndoSerialBody) Encode(e *Encoder) {
	e.ListLen(len(b.Entries))
	for _, u := range b.Entries {
		u.Encode(e)
	}
}

func (b *AnswerObjectUndoSerialBody) Decode(d *Decoder) error {
	n := d.ListLen()
	b.Entries = make([]UndoSerialEntry, 0, n)
	for i := 0; i < n; i++ {
		var u UndoSerialEntry
		if err := u.Decode(d); err != nil {
			return err
		}
		b.Entries = append(b.Entries, u)
	}
	return d.Err()
}

type AskHasLockBody struct {
	TID uint64
	OID uint64
}

func (b *AskHasLockBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.ID(b.OID)
}

func (b *AskHasLockBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	b.OID = d.ID()
	return d.Err()
}

type AnswerHasLockBody struct {
	Locked bool
}

func (b *AnswerHasLockBody) Encode(e *Encoder) { e.Bool(b.Locked) }
func (b *AnswerHasLockBody) Decode(d *Decoder) error {
	b.Locked = d.Bool()
	return d.Err()
}
