package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocksGrantsFreeOIDImmediately(t *testing.T) {
	l := NewLocks(time.Second)
	conflict, _, err := l.Acquire(context.Background(), ids.OID(1), ids.TID(1))
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestLocksDelayedWaiterPromotedOnAbort(t *testing.T) {
	l := NewLocks(time.Second)
	oid := ids.OID(1)
	first := ids.TID(1)
	second := ids.TID(2)

	conflict, _, err := l.Acquire(context.Background(), oid, first)
	require.NoError(t, err)
	require.False(t, conflict)

	done := make(chan struct{})
	var secondConflict bool
	go func() {
		secondConflict, _, _ = l.Acquire(context.Background(), oid, second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release(oid, first, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second writer was never unblocked")
	}
	assert.False(t, secondConflict)
	assert.True(t, l.HasLock(oid, second))
}

func TestLocksDelayedWaiterToldConflictOnCommit(t *testing.T) {
	l := NewLocks(time.Second)
	oid := ids.OID(1)
	first := ids.TID(1)
	second := ids.TID(2)

	conflict, _, err := l.Acquire(context.Background(), oid, first)
	require.NoError(t, err)
	require.False(t, conflict)

	done := make(chan struct{})
	var secondConflict bool
	var conflictSerial ids.TID
	go func() {
		secondConflict, conflictSerial, _ = l.Acquire(context.Background(), oid, second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release(oid, first, true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second writer was never unblocked")
	}
	assert.True(t, secondConflict)
	assert.Equal(t, first, conflictSerial)
	assert.False(t, l.HasLock(oid, second))
}

func TestLocksThirdWriterConflictsImmediately(t *testing.T) {
	l := NewLocks(time.Second)
	oid := ids.OID(1)
	first, second, third := ids.TID(1), ids.TID(2), ids.TID(3)

	conflict, _, err := l.Acquire(context.Background(), oid, first)
	require.NoError(t, err)
	require.False(t, conflict)

	go l.Acquire(context.Background(), oid, second)
	time.Sleep(20 * time.Millisecond)

	conflict, conflictSerial, err := l.Acquire(context.Background(), oid, third)
	require.NoError(t, err)
	assert.True(t, conflict)
	assert.Equal(t, first, conflictSerial)
}

func TestLocksBoundedDelayExpires(t *testing.T) {
	l := NewLocks(20 * time.Millisecond)
	oid := ids.OID(1)
	first, second := ids.TID(1), ids.TID(2)

	conflict, _, err := l.Acquire(context.Background(), oid, first)
	require.NoError(t, err)
	require.False(t, conflict)

	conflict, _, err = l.Acquire(context.Background(), oid, second)
	require.NoError(t, err)
	assert.True(t, conflict)
}

func TestLocksReleaseAllReleasesEveryAcquiredOID(t *testing.T) {
	l := NewLocks(time.Second)
	tid := ids.TID(1)
	oids := []ids.OID{1, 2, 3}
	for _, oid := range oids {
		conflict, _, err := l.Acquire(context.Background(), oid, tid)
		require.NoError(t, err)
		require.False(t, conflict)
	}

	l.ReleaseAll(tid, true)

	for _, oid := range oids {
		assert.False(t, l.HasLock(oid, tid))
	}

	// a fresh tid can now acquire every one of them without conflict.
	other := ids.TID(2)
	for _, oid := range oids {
		conflict, _, err := l.Acquire(context.Background(), oid, other)
		require.NoError(t, err)
		assert.False(t, conflict)
	}
}

func TestLocksLoadLock(t *testing.T) {
	l := NewLocks(time.Second)
	oid := ids.OID(7)
	tid := ids.TID(42)

	assert.False(t, l.HasLock(oid, tid))
	l.LockLoad(oid, tid)
	assert.True(t, l.HasLock(oid, tid))
	l.UnlockLoad(oid)
	assert.False(t, l.HasLock(oid, tid))
}
