package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	l := NewLifecycle()
	assert.Equal(t, Initializing, l.Current())

	require.NoError(t, l.Transition(Verifying))
	require.NoError(t, l.Transition(Running))
	require.NoError(t, l.Transition(Stopping))
	assert.Equal(t, Stopping, l.Current())
}

func TestLifecycleRejectsIllegalJump(t *testing.T) {
	l := NewLifecycle()
	assert.Error(t, l.Transition(Running))
	assert.Equal(t, Initializing, l.Current())
}

func TestLifecycleCanFallBackToVerifying(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Transition(Verifying))
	require.NoError(t, l.Transition(Running))
	require.NoError(t, l.Transition(Verifying))
	assert.Equal(t, Verifying, l.Current())
}

func TestLifecycleHiddenRecoversToVerifying(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Transition(Verifying))
	require.NoError(t, l.Transition(Running))
	require.NoError(t, l.Transition(Hidden))
	require.NoError(t, l.Transition(Verifying))
	assert.Equal(t, Verifying, l.Current())
}

func TestLifecycleStoppingIsTerminal(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Transition(Verifying))
	require.NoError(t, l.Transition(Running))
	require.NoError(t, l.Transition(Stopping))
	assert.Error(t, l.Transition(Running))
}
