package proto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayloadSize bounds a single packet's payload. Anything larger is a
// protocol error: no legitimate neo message (the largest is a compressed
// object payload) needs more than this.
const MaxPayloadSize = 64 * 1024 * 1024

// WriteFrame writes one complete packet frame to w.
func WriteFrame(w io.Writer, msgID uint32, ptype Type, payload []byte) error {
	var hdr [10]byte
	binary.BigEndian.PutUint32(hdr[0:4], msgID)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(ptype))
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(payload)))

	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
		defer bw.Flush()
	}
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := bw.Write(payload); err != nil {
			return err
		}
	}
	if ok {
		return nil
	}
	return bw.Flush()
}

// ReadFrame reads one complete packet frame from r, blocking until the
// whole frame has arrived. It returns io.EOF (or the underlying read error)
// unchanged so callers can distinguish a clean close from a protocol error.
func ReadFrame(r io.Reader) (msgID uint32, ptype Type, payload []byte, err error) {
	var hdr [10]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	msgID = binary.BigEndian.Uint32(hdr[0:4])
	ptype = Type(binary.BigEndian.Uint16(hdr[4:6]))
	length := binary.BigEndian.Uint32(hdr[6:10])
	if length > MaxPayloadSize {
		return 0, 0, nil, fmt.Errorf("proto: payload of %d bytes exceeds max %d", length, MaxPayloadSize)
	}
	payload = make([]byte, length)
	if length > 0 {
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, 0, nil, err
		}
	}
	return msgID, ptype, payload, nil
}

// Body is implemented by every packet payload struct.
type Body interface {
	Encode(e *Encoder)
	Decode(d *Decoder) error
}

// EncodeBody renders a Body to bytes ready for WriteFrame.
func EncodeBody(b Body) []byte {
	e := &Encoder{}
	b.Encode(e)
	return e.Bytes()
}

// DecodeBody parses payload into b.
func DecodeBody(payload []byte, b Body) error {
	d := NewDecoder(payload)
	return b.Decode(d)
}

// Encoder appends fixed-schema fields to a growing byte buffer, in the
// order the schema defines them. It never fails: Go slice growth cannot
// run out of encodable range for the types neo uses.
type Encoder struct {
	buf []byte
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) U8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
	} else {
		e.U8(0)
	}
}

func (e *Encoder) U16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// ID appends an 8-byte opaque identifier (OID/TID/PTID/UUID all share this
// wire shape).
func (e *Encoder) ID(v uint64) { e.U64(v) }

// Blob appends a length-prefixed (u32) byte string.
func (e *Encoder) Blob(v []byte) {
	e.U32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// Str appends a length-prefixed (u32) UTF-8 string.
func (e *Encoder) Str(v string) { e.Blob([]byte(v)) }

// ListLen appends a u32 element count ahead of a fixed-list field; callers
// encode each element themselves right after.
func (e *Encoder) ListLen(n int) { e.U32(uint32(n)) }

// Decoder consumes fixed-schema fields from a payload in schema order. The
// first error encountered is sticky: all further reads become no-ops
// returning zero values, so a handler can decode a whole struct and check
// err once at the end.
type Decoder struct {
	buf []byte
	pos int
	err error
}

func NewDecoder(payload []byte) *Decoder { return &Decoder{buf: payload} }

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) need(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.pos+n > len(d.buf) {
		d.err = fmt.Errorf("proto: short payload: need %d bytes at offset %d, have %d", n, d.pos, len(d.buf))
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) U8() uint8 {
	b := d.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) Bool() bool { return d.U8() != 0 }

func (d *Decoder) U16() uint16 {
	b := d.need(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *Decoder) U32() uint32 {
	b := d.need(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *Decoder) U64() uint64 {
	b := d.need(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *Decoder) ID() uint64 { return d.U64() }

func (d *Decoder) Blob() []byte {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	b := d.need(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *Decoder) Str() string {
	b := d.Blob()
	if b == nil {
		return ""
	}
	return string(b)
}

func (d *Decoder) ListLen() int { return int(d.U32()) }
