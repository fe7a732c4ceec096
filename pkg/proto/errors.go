package proto

// ErrorCode is the wire-level error taxonomy carried by an Error packet.
type ErrorCode uint16

const (
	ECAck             ErrorCode = iota // not used as an Error code, reserved
	ECProtocolError                    // malformed or unexpected packet; the connection stays open
	ECNotReady                         // transient; caller may retry
	ECOidNotFound                      // domain miss on an OID
	ECTidNotFound                      // domain miss on a TID
	ECBrokenNode                       // persistent refusal
	ECNotPrimary                       // target is not (or no longer) the primary master
	ECReadOnly                         // write attempted against a read-only client/storage
	ECStorageError                     // cluster-wide I/O failure
)

func (c ErrorCode) String() string {
	switch c {
	case ECProtocolError:
		return "PROTOCOL_ERROR"
	case ECNotReady:
		return "NOT_READY"
	case ECOidNotFound:
		return "OID_NOT_FOUND"
	case ECTidNotFound:
		return "TID_NOT_FOUND"
	case ECBrokenNode:
		return "BROKEN_NODE"
	case ECNotPrimary:
		return "NOT_PRIMARY"
	case ECReadOnly:
		return "READ_ONLY"
	case ECStorageError:
		return "STORAGE_ERROR"
	default:
		return "ACK"
	}
}

// ErrorBody is the payload of a TError packet.
type ErrorBody struct {
	Code    ErrorCode
	Message string
}

func (b *ErrorBody) Encode(e *Encoder) {
	e.U16(uint16(b.Code))
	e.Str(b.Message)
}

func (b *ErrorBody) Decode(d *Decoder) error {
	b.Code = ErrorCode(d.U16())
	b.Message = d.Str()
	return d.Err()
}

// AckBody is the payload of a TAck packet: a positive reply carrying only a
// human-readable message.
type AckBody struct {
	Message string
}

func (b *AckBody) Encode(e *Encoder) { e.Str(b.Message) }
func (b *AckBody) Decode(d *Decoder) error {
	b.Message = d.Str()
	return d.Err()
}

// PingBody/PongBody carry no fields; liveness is driven purely by the
// exchange happening at all.
type PingBody struct{}

func (*PingBody) Encode(*Encoder)    {}
func (*PingBody) Decode(*Decoder) error { return nil }

type PongBody struct{}

func (*PongBody) Encode(*Encoder)    {}
func (*PongBody) Decode(*Decoder) error { return nil }
