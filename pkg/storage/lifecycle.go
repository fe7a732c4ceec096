package storage

import (
	"fmt"
	"sync"
)

// LifecycleState is a storage node's own state machine, distinct from (but
// reported into) the cluster-wide NodeState the master tracks for it.
type LifecycleState uint8

const (
	Initializing LifecycleState = iota
	Verifying
	Running
	Hidden
	Stopping
)

func (s LifecycleState) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Verifying:
		return "VERIFYING"
	case Running:
		return "RUNNING"
	case Hidden:
		return "HIDDEN"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// legalLifecycle mirrors the specification's storage lifecycle:
// INITIALIZING -> VERIFYING -> RUNNING -> {HIDDEN, STOPPING}, with RUNNING
// able to fall back to VERIFYING if the storage loses operational status,
// and HIDDEN able to recover back into VERIFYING.
var legalLifecycle = map[LifecycleState][]LifecycleState{
	Initializing: {Verifying},
	Verifying:    {Running},
	Running:      {Hidden, Stopping, Verifying},
	Hidden:       {Verifying, Stopping},
	Stopping:     {},
}

// Lifecycle guards a storage node's local state transitions.
type Lifecycle struct {
	mu    sync.RWMutex
	state LifecycleState
}

// NewLifecycle starts a storage node in INITIALIZING, the state it boots
// into before identifying to the primary master.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: Initializing}
}

func (l *Lifecycle) Current() LifecycleState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Transition moves to next if legal, or returns an error leaving the state
// unchanged.
func (l *Lifecycle) Transition(next LifecycleState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, allowed := range legalLifecycle[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("storage: illegal lifecycle transition %s -> %s", l.state, next)
}
