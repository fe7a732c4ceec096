package cluster

import (
	"fmt"
	"sync"

	"github.com/cuemby/neo/pkg/proto"
)

// State is the cluster-wide state machine held by the primary master and
// mirrored by every other node via NotifyClusterInformation/
// AnswerClusterState.
type State = proto.ClusterState

const (
	StateRecovering = proto.ClusterRecovering
	StateVerifying  = proto.ClusterVerifying
	StateRunning    = proto.ClusterRunning
	StateStopping   = proto.ClusterStopping
)

// legal holds the state machine's allowed forward transitions; STOPPING is
// terminal and RECOVERING is only reachable via a fresh boot, never as a
// transition target.
var legal = map[State][]State{
	StateRecovering: {StateVerifying},
	StateVerifying:  {StateRunning, StateRecovering},
	StateRunning:    {StateStopping, StateVerifying},
	StateStopping:   {},
}

// StateMachine guards cluster state transitions with the legal-transition
// table above, so a caller asking to move straight from RECOVERING to
// RUNNING gets a clear rejection instead of silently corrupting cluster
// state.
type StateMachine struct {
	mu    sync.RWMutex
	state State
}

// NewStateMachine starts in RECOVERING, the state every cluster boots into.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateRecovering}
}

// Current returns the state machine's current state.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition moves to next if legal, or returns an error leaving the state
// unchanged.
func (sm *StateMachine) Transition(next State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, allowed := range legal[sm.state] {
		if allowed == next {
			sm.state = next
			return nil
		}
	}
	return fmt.Errorf("cluster: illegal transition %s -> %s", sm.state, next)
}
