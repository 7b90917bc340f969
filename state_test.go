package ioloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopStateTransitions(t *testing.T) {
	var s loopState
	require.Equal(t, StateStopped, s.Load())

	require.True(t, s.TryTransition(StateStopped, StateRunning))
	require.Equal(t, StateRunning, s.Load())
	require.False(t, s.TryTransition(StateStopped, StateRunning),
		"transition from a stale source state fails")

	require.True(t, s.TryTransition(StateRunning, StateStopped))
	s.Store(StateClosed)
	require.Equal(t, StateClosed, s.Load())
}

func TestLoopStateStrings(t *testing.T) {
	require.Equal(t, "Stopped", StateStopped.String())
	require.Equal(t, "Running", StateRunning.String())
	require.Equal(t, "Closed", StateClosed.String())
	require.Equal(t, "Unknown", LoopState(99).String())
}

func TestLoopStateObservableWhileRunning(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var observed LoopState
	tm := NewTimer(l)
	require.NoError(t, tm.Start(func() {
		observed = l.state.Load()
		tm.Close(nil)
	}, 0, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, StateRunning, observed)
	require.Equal(t, StateStopped, l.state.Load())
	require.NoError(t, l.Close())
	require.Equal(t, StateClosed, l.state.Load())
}
