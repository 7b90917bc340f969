package ioloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPhaseOrderWithinIteration(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var order []string
	idle := NewIdle(l)
	prep := NewPrepare(l)
	chk := NewCheck(l)
	tm := NewTimer(l)

	require.NoError(t, idle.Start(func() { order = append(order, "idle") }))
	require.NoError(t, prep.Start(func() { order = append(order, "prepare") }))
	require.NoError(t, chk.Start(func() { order = append(order, "check") }))
	require.NoError(t, tm.Start(func() { order = append(order, "timer") }, 0, 0))

	require.NoError(t, l.Run(RunOnce))
	require.Equal(t, []string{"timer", "idle", "prepare", "check"}, order,
		"phase order: timers, idle, prepare, poll, check")

	require.NoError(t, idle.Close(nil))
	require.NoError(t, prep.Close(nil))
	require.NoError(t, chk.Close(nil))
	require.NoError(t, tm.Close(nil))
	require.NoError(t, l.Run(RunDefault))
	require.NoError(t, l.Close())
}

func TestIdleRunsEveryIteration(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	count := 0
	idle := NewIdle(l)
	require.NoError(t, idle.Start(func() {
		count++
		if count == 5 {
			idle.Close(nil)
		}
	}))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 5, count, "an active idle watcher forces back-to-back iterations")
	require.NoError(t, l.Close())
}

func TestWatcherStopIsRestartable(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	count := 0
	chk := NewCheck(l)
	require.NoError(t, chk.Start(func() { count++ }))
	require.NoError(t, chk.Stop())
	require.False(t, chk.IsActive())

	require.NoError(t, l.Run(RunNoWait))
	require.Zero(t, count, "a stopped watcher does not fire")

	require.NoError(t, chk.Start(func() {
		count++
		chk.Close(nil)
	}))
	// A check watcher alone never wakes poll; pair it with a timer.
	wake := NewTimer(l)
	require.NoError(t, wake.Start(func() { wake.Close(nil) }, time.Millisecond, 0))
	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 1, count)
	require.NoError(t, l.Close())
}

func TestWatcherStopFromOwnCallback(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	count := 0
	idle := NewIdle(l)
	require.NoError(t, idle.Start(func() {
		count++
		require.NoError(t, idle.Stop())
		idle.Close(nil)
	}))

	keeper := NewTimer(l)
	require.NoError(t, keeper.Start(func() { keeper.Close(nil) }, 5*time.Millisecond, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 1, count)
	require.NoError(t, l.Close())
}

func TestWatcherValidation(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	idle := NewIdle(l)
	require.ErrorIs(t, idle.Start(nil), EINVAL)
	require.NoError(t, idle.Close(nil))
	require.ErrorIs(t, idle.Start(func() {}), EINVAL)
	require.ErrorIs(t, idle.Stop(), EINVAL)

	prep := NewPrepare(l)
	require.ErrorIs(t, prep.Start(nil), EINVAL)
	chk := NewCheck(l)
	require.ErrorIs(t, chk.Start(nil), EINVAL)

	require.NoError(t, l.Run(RunDefault))
	drainClose(t, l, prep)
	drainClose(t, l, chk)
	require.NoError(t, l.Close())
}
