package ids

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// OID is an opaque 8-byte object identifier, monotonically allocated by the
// primary master in batches.
type OID uint64

// TID is an opaque 8-byte transaction identifier. TIDs are monotonic
// cluster-wide: every commit observes a TID strictly greater than every TID
// observed before it.
type TID uint64

// PTID is the partition-table revision identifier. It increases by exactly
// one on every partition-table mutation broadcast by the primary.
type PTID uint64

// UUID is the 8-byte node identity, bytewise comparable like every other
// cluster identifier. It is distinct from the 16-byte RFC 4122 UUID used to
// seed it.
type UUID uint64

// Zero is the sentinel "undefined" value shared by all four identifier
// kinds: a freshly-constructed Node has ZeroUUID, an object with no prior
// revision has ZeroTID as its base serial, and so on.
const (
	ZeroOID  OID  = 0
	ZeroTID  TID  = 0
	ZeroPTID PTID = 0
	ZeroUUID UUID = 0
)

func (o OID) IsZero() bool  { return o == ZeroOID }
func (t TID) IsZero() bool  { return t == ZeroTID }
func (p PTID) IsZero() bool { return p == ZeroPTID }
func (u UUID) IsZero() bool { return u == ZeroUUID }

func (o OID) String() string  { return fmt.Sprintf("0x%016x", uint64(o)) }
func (t TID) String() string  { return fmt.Sprintf("0x%016x", uint64(t)) }
func (p PTID) String() string { return fmt.Sprintf("0x%016x", uint64(p)) }
func (u UUID) String() string { return fmt.Sprintf("0x%016x", uint64(u)) }

// Bytes renders the identifier as the 8-byte big-endian wire representation
// used by the packet codec.
func (o OID) Bytes() [8]byte  { return encode(uint64(o)) }
func (t TID) Bytes() [8]byte  { return encode(uint64(t)) }
func (p PTID) Bytes() [8]byte { return encode(uint64(p)) }
func (u UUID) Bytes() [8]byte { return encode(uint64(u)) }

func encode(v uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b
}

// OIDFromBytes decodes an 8-byte big-endian wire value into an OID.
func OIDFromBytes(b []byte) OID   { return OID(binary.BigEndian.Uint64(b)) }
func TIDFromBytes(b []byte) TID   { return TID(binary.BigEndian.Uint64(b)) }
func PTIDFromBytes(b []byte) PTID { return PTID(binary.BigEndian.Uint64(b)) }
func UUIDFromBytes(b []byte) UUID { return UUID(binary.BigEndian.Uint64(b)) }

// PartitionOf returns the partition that owns oid under an N-partition
// cluster: partition = oid mod N.
func PartitionOf(oid OID, nPartitions uint32) uint32 {
	if nPartitions == 0 {
		return 0
	}
	return uint32(uint64(oid) % uint64(nPartitions))
}

// NewUUID derives a node UUID from a fresh random 16-byte UUID, folding it
// down to 8 bytes with xxhash so the distribution stays uniform. Callers
// that need a deterministic identity (tests, the primary master minting an
// identity for a newly-identified peer) may instead construct a UUID
// directly from a counter.
func NewUUID() UUID {
	raw := uuid.New()
	return UUID(xxhash.Sum64(raw[:]))
}

// TIDGenerator allocates strictly increasing TIDs from the primary master's
// real-time clock: a TID is the current Unix time in nanoseconds, bumped to
// one past the last TID whenever the clock has not advanced (ntp step-backs,
// VM pauses), so TIDs remain monotonic across clock regressions. It is not a
// packed-gmtime encoding; the property under test is monotonicity, not the
// bit layout.
type TIDGenerator struct {
	last TID
}

// timeNowUnixNano is overridable by tests; production code always uses wall time.
var timeNowUnixNano = defaultTimeNow

// Next returns a TID guaranteed to be strictly greater than every TID
// previously returned by this generator, and strictly greater than after,
// if after is non-zero (used to honor a client-proposed TID floor).
func (g *TIDGenerator) Next(after TID) TID {
	now := TID(timeNowUnixNano())
	candidate := now
	if candidate <= g.last {
		candidate = g.last + 1
	}
	if after != ZeroTID && candidate <= after {
		candidate = after + 1
	}
	g.last = candidate
	return candidate
}

// Observe folds an externally-seen TID (e.g. restored from a snapshot, or
// reported by a storage's getLastIDs) into the generator so that future
// allocations never regress below it.
func (g *TIDGenerator) Observe(tid TID) {
	if tid > g.last {
		g.last = tid
	}
}

// Last returns the most recently allocated TID, ZeroTID if none yet.
func (g *TIDGenerator) Last() TID { return g.last }
