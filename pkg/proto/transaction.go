package proto

type AskBeginTransactionBody struct {
	ProposedTID uint64 // ZeroTID if the client has no opinion
}

func (b *AskBeginTransactionBody) Encode(e *Encoder) { e.ID(b.ProposedTID) }
func (b *AskBeginTransactionBody) Decode(d *Decoder) error {
	b.ProposedTID = d.ID()
	return d.Err()
}

type AnswerBeginTransactionBody struct {
	TID uint64
}

func (b *AnswerBeginTransactionBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *AnswerBeginTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

type AskNewOIDsBody struct {
	Count uint32
}

func (b *AskNewOIDsBody) Encode(e *Encoder) { e.U32(b.Count) }
func (b *AskNewOIDsBody) Decode(d *Decoder) error {
	b.Count = d.U32()
	return d.Err()
}

type AnswerNewOIDsBody struct {
	OIDs []uint64
}

func (b *AnswerNewOIDsBody) Encode(e *Encoder) {
	e.ListLen(len(b.OIDs))
	for _, o := range b.OIDs {
		e.ID(o)
	}
}

func (b *AnswerNewOIDsBody) Decode(d *Decoder) error {
	n := d.ListLen()
	b.OIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.OIDs = append(b.OIDs, d.ID())
	}
	return d.Err()
}

// AskStoreObjectBody carries one object write to a storage cell.
type AskStoreObjectBody struct {
	OID         uint64
	BaseSerial  uint64 // serial the client last read, ZeroTID for a fresh object
	TID         uint64
	Compression bool
	Checksum    uint64
	Data        []byte
	DataTID     uint64 // non-zero for an undo back-pointer; Data is empty in that case
}

func (b *AskStoreObjectBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.ID(b.BaseSerial)
	e.ID(b.TID)
	e.Bool(b.Compression)
	e.U64(b.Checksum)
	e.Blob(b.Data)
	e.ID(b.DataTID)
}

func (b *AskStoreObjectBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	b.BaseSerial = d.ID()
	b.TID = d.ID()
	b.Compression = d.Bool()
	b.Checksum = d.U64()
	b.Data = d.Blob()
	b.DataTID = d.ID()
	return d.Err()
}

// AnswerStoreObjectBody is either a plain ack (Conflicting=false) or a
// conflict report carrying the serial of the revision that already won.
type AnswerStoreObjectBody struct {
	OID            uint64
	Conflicting    bool
	ConflictSerial uint64
}

func (b *AnswerStoreObjectBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.Bool(b.Conflicting)
	e.ID(b.ConflictSerial)
}

func (b *AnswerStoreObjectBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	b.Conflicting = d.Bool()
	b.ConflictSerial = d.ID()
	return d.Err()
}

// AskStoreTransactionBody is the vote-time metadata submission, sent both
// to the primary master and to every writable cell touched by the
// transaction.
type AskStoreTransactionBody struct {
	TID         uint64
	User        string
	Description string
	Extension   []byte
	OIDs        []uint64
}

func (b *AskStoreTransactionBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.Str(b.User)
	e.Str(b.Description)
	e.Blob(b.Extension)
	e.ListLen(len(b.OIDs))
	for _, o := range b.OIDs {
		e.ID(o)
	}
}

func (b *AskStoreTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	b.User = d.Str()
	b.Description = d.Str()
	b.Extension = d.Blob()
	n := d.ListLen()
	b.OIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.OIDs = append(b.OIDs, d.ID())
	}
	return d.Err()
}

type AnswerStoreTransactionBody struct {
	TID uint64
}

func (b *AnswerStoreTransactionBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *AnswerStoreTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

// AskTransactionBody asks a peer for one transaction's metadata row, the
// fetch step replication's transaction-metadata phase drives once it has
// identified a TID it holds but the local store doesn't.
type AskTransactionBody struct {
	TID uint64
}

func (b *AskTransactionBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *AskTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

// AnswerTransactionBody carries one transaction row in full, including its
// OID list, the way pullObjects already carries full object rows.
type AnswerTransactionBody struct {
	TID         uint64
	User        string
	Description string
	Extension   []byte
	OIDs        []uint64
}

func (b *AnswerTransactionBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.Str(b.User)
	e.Str(b.Description)
	e.Blob(b.Extension)
	e.ListLen(len(b.OIDs))
	for _, o := range b.OIDs {
		e.ID(o)
	}
}

func (b *AnswerTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	b.User = d.Str()
	b.Description = d.Str()
	b.Extension = d.Blob()
	n := d.ListLen()
	b.OIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.OIDs = append(b.OIDs, d.ID())
	}
	return d.Err()
}

// AskCheckCurrentSerialBody implements the read-with-verify path (§9 open
// question 3): the storage confirms the serial at commit time without
// storing an object row.
type AskCheckCurrentSerialBody struct {
	TID        uint64
	OID        uint64
	SerialRead uint64
}

func (b *AskCheckCurrentSerialBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.ID(b.OID)
	e.ID(b.SerialRead)
}

func (b *AskCheckCurrentSerialBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	b.OID = d.ID()
	b.SerialRead = d.ID()
	return d.Err()
}

type AnswerCheckCurrentSerialBody struct {
	OID            uint64
	Conflicting    bool
	ConflictSerial uint64
}

func (b *AnswerCheckCurrentSerialBody) Encode(e *Encoder) {
	e.ID(b.OID)
	e.Bool(b.Conflicting)
	e.ID(b.ConflictSerial)
}

func (b *AnswerCheckCurrentSerialBody) Decode(d *Decoder) error {
	b.OID = d.ID()
	b.Conflicting = d.Bool()
	b.ConflictSerial = d.ID()
	return d.Err()
}

type AskFinishTransactionBody struct {
	TID  uint64
	OIDs []uint64
}

func (b *AskFinishTransactionBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.ListLen(len(b.OIDs))
	for _, o := range b.OIDs {
		e.ID(o)
	}
}

func (b *AskFinishTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	n := d.ListLen()
	b.OIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.OIDs = append(b.OIDs, d.ID())
	}
	return d.Err()
}

type AnswerTransactionFinishedBody struct {
	TID uint64
}

func (b *AnswerTransactionFinishedBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *AnswerTransactionFinishedBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

// AbortTransactionBody is a notification, not a request: the primary and
// every touched storage drop the transaction's state without replying.
type AbortTransactionBody struct {
	TID uint64
}

func (b *AbortTransactionBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *AbortTransactionBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

// LockInformationBody/InformationLockedBody/NotifyUnlockInformationBody
// drive the master <-> storage half of two-phase commit.
type LockInformationBody struct {
	TID uint64
}

func (b *LockInformationBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *LockInformationBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

type InformationLockedBody struct {
	TID uint64
}

func (b *InformationLockedBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *InformationLockedBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

type NotifyUnlockInformationBody struct {
	TID uint64
}

func (b *NotifyUnlockInformationBody) Encode(e *Encoder) { e.ID(b.TID) }
func (b *NotifyUnlockInformationBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	return d.Err()
}

// InvalidateObjectsBody is sent to every known client, the committer
// included, once a transaction finishes.
type InvalidateObjectsBody struct {
	TID  uint64
	OIDs []uint64
}

func (b *InvalidateObjectsBody) Encode(e *Encoder) {
	e.ID(b.TID)
	e.ListLen(len(b.OIDs))
	for _, o := range b.OIDs {
		e.ID(o)
	}
}

func (b *InvalidateObjectsBody) Decode(d *Decoder) error {
	b.TID = d.ID()
	n := d.ListLen()
	b.OIDs = make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		b.OIDs = append(b.OIDs, d.ID())
	}
	return d.Err()
}

// AskBarrierBody/AnswerBarrierBody implement the consistency barrier that
// anchors a client's transaction snapshot (§4.4 load algorithm step 2).
type AskBarrierBody struct{}

func (*AskBarrierBody) Encode(*Encoder)      {}
func (*AskBarrierBody) Decode(*Decoder) error { return nil }

type AnswerBarrierBody struct {
	LastTID uint64
}

func (b *AnswerBarrierBody) Encode(e *Encoder) { e.ID(b.LastTID) }
func (b *AnswerBarrierBody) Decode(d *Decoder) error {
	b.LastTID = d.ID()
	return d.Err()
}
