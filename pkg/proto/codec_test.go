package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	require.NoError(t, WriteFrame(&buf, 42, TAskObject, payload))

	msgID, ptype, got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), msgID)
	assert.Equal(t, TAskObject, ptype)
	assert.Equal(t, payload, got)
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	var hdr [10]byte
	hdr[9] = 0 // keep length small in header but claim huge via manual write
	// Construct a header claiming a payload larger than MaxPayloadSize.
	require.NoError(t, WriteFrame(&buf, 1, TPing, nil))
	raw := buf.Bytes()
	raw[6], raw[7], raw[8], raw[9] = 0xFF, 0xFF, 0xFF, 0xFF
	_, _, _, err := ReadFrame(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestBodyRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		body Body
	}{
		{"RequestIdentification", &RequestIdentificationBody{NodeType: NodeTypeStorage, UUID: 7, Address: "10.0.0.1:9000", ClusterName: "test"}},
		{"AcceptIdentification", &AcceptIdentificationBody{YourUUID: 7, MyUUID: 1, MyNodeType: NodeTypeMaster, NumPartitions: 4, NumReplicas: 1}},
		{"AnswerPrimary", &AnswerPrimaryBody{PrimaryUUID: 9, KnownMasters: []NodeInfo{{UUID: 9, Type: NodeTypeMaster, Address: "a:1", State: NodeStateRunning}}}},
		{"NotifyPartitionChanges", &NotifyPartitionChangesBody{PTID: 5, Diff: []PartitionCellChange{{Partition: 0, UUID: 3, State: CellOutOfDate}}}},
		{"AskStoreObject", &AskStoreObjectBody{OID: 1, BaseSerial: 0, TID: 10, Compression: true, Checksum: 0xabc, Data: []byte("hello"), DataTID: 0}},
		{"AnswerStoreObject", &AnswerStoreObjectBody{OID: 1, Conflicting: true, ConflictSerial: 11}},
		{"InvalidateObjects", &InvalidateObjectsBody{TID: 10, OIDs: []uint64{1, 2, 3}}},
		{"AnswerObject", &AnswerObjectBody{OID: 1, Serial: 10, NextTID: 0, Compression: false, Checksum: 42, Data: []byte("x")}},
		{"Error", &ErrorBody{Code: ECOidNotFound, Message: "no such oid"}},
		{"Ack", &AckBody{Message: "ok"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := EncodeBody(tc.body)

			decoded := newEmptyLike(tc.body)
			require.NoError(t, DecodeBody(raw, decoded))
			assert.Equal(t, tc.body, decoded)
		})
	}
}

// newEmptyLike returns a fresh zero value of the same concrete type as body,
// so each table entry can decode into its own type without a type switch
// per case.
func newEmptyLike(body Body) Body {
	switch body.(type) {
	case *RequestIdentificationBody:
		return &RequestIdentificationBody{}
	case *AcceptIdentificationBody:
		return &AcceptIdentificationBody{}
	case *AnswerPrimaryBody:
		return &AnswerPrimaryBody{}
	case *NotifyPartitionChangesBody:
		return &NotifyPartitionChangesBody{}
	case *AskStoreObjectBody:
		return &AskStoreObjectBody{}
	case *AnswerStoreObjectBody:
		return &AnswerStoreObjectBody{}
	case *InvalidateObjectsBody:
		return &InvalidateObjectsBody{}
	case *AnswerObjectBody:
		return &AnswerObjectBody{}
	case *ErrorBody:
		return &ErrorBody{}
	case *AckBody:
		return &AckBody{}
	default:
		panic("unhandled body type in test")
	}
}

func TestDecodeShortPayloadErrors(t *testing.T) {
	d := NewDecoder([]byte{0, 0})
	_ = d.U64()
	assert.Error(t, d.Err())
}
