package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionOf(t *testing.T) {
	tests := []struct {
		name string
		oid  OID
		n    uint32
		want uint32
	}{
		{"zero partitions guard", OID(7), 0, 0},
		{"single partition", OID(123), 1, 0},
		{"wraps", OID(10), 4, 2},
		{"exact multiple", OID(8), 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PartitionOf(tt.oid, tt.n))
		})
	}
}

func TestBytesRoundTrip(t *testing.T) {
	oid := OID(0xdeadbeefcafef00d)
	b := oid.Bytes()
	assert.Equal(t, oid, OIDFromBytes(b[:]))

	tid := TID(1)
	tb := tid.Bytes()
	assert.Equal(t, tid, TIDFromBytes(tb[:]))
}

func TestZeroSentinels(t *testing.T) {
	assert.True(t, ZeroOID.IsZero())
	assert.True(t, ZeroTID.IsZero())
	assert.True(t, ZeroPTID.IsZero())
	assert.True(t, ZeroUUID.IsZero())
	assert.False(t, OID(1).IsZero())
}

func TestTIDGeneratorMonotonic(t *testing.T) {
	var g TIDGenerator
	var last TID
	for i := 0; i < 1000; i++ {
		tid := g.Next(ZeroTID)
		assert.Greater(t, uint64(tid), uint64(last))
		last = tid
	}
}

func TestTIDGeneratorHonorsClientFloor(t *testing.T) {
	var g TIDGenerator
	first := g.Next(ZeroTID)
	// client proposes a TID far in the future; generator must exceed it.
	floor := first + 1_000_000
	next := g.Next(floor)
	assert.Greater(t, next, floor)
}

func TestTIDGeneratorSurvivesClockRegression(t *testing.T) {
	var g TIDGenerator
	real := timeNowUnixNano
	defer func() { timeNowUnixNano = real }()

	timeNowUnixNano = func() uint64 { return 1000 }
	a := g.Next(ZeroTID)
	timeNowUnixNano = func() uint64 { return 500 } // clock stepped backwards
	b := g.Next(ZeroTID)
	assert.Greater(t, uint64(b), uint64(a))
}

func TestNewUUIDIsNonZeroAndVaries(t *testing.T) {
	a := NewUUID()
	b := NewUUID()
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
}
