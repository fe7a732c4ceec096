package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, StateRecovering, sm.Current())

	require.NoError(t, sm.Transition(StateVerifying))
	require.NoError(t, sm.Transition(StateRunning))
	require.NoError(t, sm.Transition(StateStopping))
	assert.Equal(t, StateStopping, sm.Current())
}

func TestStateMachineRejectsIllegalJump(t *testing.T) {
	sm := NewStateMachine()
	assert.Error(t, sm.Transition(StateRunning))
	assert.Equal(t, StateRecovering, sm.Current())
}

func TestStateMachineCanFallBackToVerifying(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.Transition(StateVerifying))
	require.NoError(t, sm.Transition(StateRunning))
	require.NoError(t, sm.Transition(StateVerifying))
	assert.Equal(t, StateVerifying, sm.Current())
}

func TestStateMachineStoppingIsTerminal(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.Transition(StateVerifying))
	require.NoError(t, sm.Transition(StateRunning))
	require.NoError(t, sm.Transition(StateStopping))
	assert.Error(t, sm.Transition(StateRunning))
}
