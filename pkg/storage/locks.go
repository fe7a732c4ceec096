package storage

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/neo/pkg/ids"
)

type lockResult struct {
	conflict       bool
	conflictSerial ids.TID
}

// lockState tracks one OID's store_lock: the tid currently holding it, and
// at most one delayed second writer queued behind it.
type lockState struct {
	holder    ids.TID
	waiter    chan lockResult
	waiterTID ids.TID
}

// Locks implements the per-OID store_lock (held from AskStoreObject until
// the tid is unlocked) and load_lock (taken by LockLoad, dropped by
// UnlockLoad; the Server's LockInformation and NotifyUnlockInformation
// handlers call neither). A second writer to an OID already locked is
// delayed rather than immediately refused: Acquire blocks until the holder
// resolves (or a bounded delay watchdog expires), then reports whether the
// caller still conflicts. A third concurrent writer is refused outright —
// only one writer is ever queued behind the holder.
type Locks struct {
	mu    sync.Mutex
	store map[ids.OID]*lockState
	load  map[ids.OID]ids.TID
	byTID map[ids.TID][]ids.OID

	delay time.Duration
}

// NewLocks builds a lock table whose bounded delay watchdog fires after
// delay, bounding how long a delayed writer can be kept waiting.
func NewLocks(delay time.Duration) *Locks {
	return &Locks{
		store: make(map[ids.OID]*lockState),
		load:  make(map[ids.OID]ids.TID),
		byTID: make(map[ids.TID][]ids.OID),
		delay: delay,
	}
}

// Acquire takes oid's store_lock for tid, blocking if another tid already
// holds it. Returns conflict=true either when the holder committed first
// (conflictSerial is the tid that won) or when the delay watchdog expired
// without a resolution.
func (l *Locks) Acquire(ctx context.Context, oid ids.OID, tid ids.TID) (conflict bool, conflictSerial ids.TID, err error) {
	l.mu.Lock()
	state, held := l.store[oid]
	if !held {
		l.store[oid] = &lockState{holder: tid}
		l.byTID[tid] = append(l.byTID[tid], oid)
		l.mu.Unlock()
		return false, ids.ZeroTID, nil
	}
	if state.waiter != nil {
		l.mu.Unlock()
		return true, state.holder, nil
	}
	wait := make(chan lockResult, 1)
	state.waiter = wait
	state.waiterTID = tid
	l.mu.Unlock()

	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case res := <-wait:
		if !res.conflict {
			l.mu.Lock()
			l.byTID[tid] = append(l.byTID[tid], oid)
			l.mu.Unlock()
		}
		return res.conflict, res.conflictSerial, nil
	case <-timer.C:
		return true, ids.ZeroTID, nil
	case <-ctx.Done():
		return false, ids.ZeroTID, ctx.Err()
	}
}

// Release resolves oid's store_lock currently held by tid. committed
// reports whether tid committed (true) or aborted (false): on commit, any
// delayed writer is told it conflicts with tid and must retry from scratch;
// on abort, the delayed writer is promoted to holder unconflicted.
func (l *Locks) Release(oid ids.OID, tid ids.TID, committed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, held := l.store[oid]
	if !held || state.holder != tid {
		return
	}
	if state.waiter == nil {
		delete(l.store, oid)
		return
	}

	waiter := state.waiter
	if committed {
		delete(l.store, oid)
		waiter <- lockResult{conflict: true, conflictSerial: tid}
		return
	}
	state.holder = state.waiterTID
	state.waiter = nil
	state.waiterTID = ids.ZeroTID
	waiter <- lockResult{conflict: false}
}

// ReleaseAll releases the store_lock on every OID tid acquired via Acquire,
// driven by NotifyUnlockInformation on commit or AbortTransaction on abort.
func (l *Locks) ReleaseAll(tid ids.TID, committed bool) {
	l.mu.Lock()
	oids := l.byTID[tid]
	delete(l.byTID, tid)
	l.mu.Unlock()

	for _, oid := range oids {
		l.Release(oid, tid, committed)
	}
}

// LockLoad marks oid as load-locked by tid until UnlockLoad.
func (l *Locks) LockLoad(oid ids.OID, tid ids.TID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load[oid] = tid
}

// UnlockLoad releases oid's load_lock.
func (l *Locks) UnlockLoad(oid ids.OID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.load, oid)
}

// HasLock reports whether tid currently holds either lock kind on oid,
// answering AskHasLock.
func (l *Locks) HasLock(oid ids.OID, tid ids.TID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.store[oid]; ok && state.holder == tid {
		return true
	}
	return l.load[oid] == tid
}
