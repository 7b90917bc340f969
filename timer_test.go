package ioloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerOrdering(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var order []string
	record := func(name string, tm *Timer) func() {
		return func() {
			order = append(order, name)
			tm.Close(nil)
		}
	}

	a := NewTimer(l)
	b := NewTimer(l)
	c := NewTimer(l)
	require.NoError(t, a.Start(record("A", a), 10*time.Millisecond, 0))
	require.NoError(t, b.Start(record("B", b), 20*time.Millisecond, 0))
	require.NoError(t, c.Start(record("C", c), 10*time.Millisecond, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, []string{"A", "C", "B"}, order,
		"equal deadlines fire in start order")
	require.NoError(t, l.Close())
}

func TestTimerRepeat(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	count := 0
	tm := NewTimer(l)
	require.NoError(t, tm.Start(func() {
		count++
		if count == 3 {
			require.NoError(t, tm.Stop())
			tm.Close(nil)
		}
	}, 2*time.Millisecond, 2*time.Millisecond))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 3, count)
	require.NoError(t, l.Close())
}

func TestTimerStopFromOwnCallback(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	count := 0
	tm := NewTimer(l)
	require.NoError(t, tm.Start(func() {
		count++
		// The repeat reinsertion happened before this callback; Stop
		// must still win.
		require.NoError(t, tm.Stop())
	}, time.Millisecond, time.Millisecond))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 1, count)

	drainClose(t, l, tm)
	require.NoError(t, l.Close())
}

func TestTimerAgain(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	tm := NewTimer(l)
	require.ErrorIs(t, tm.Again(), EINVAL, "Again before any Start is rejected")

	count := 0
	require.NoError(t, tm.Start(func() {
		count++
		if count == 2 {
			require.NoError(t, tm.Stop())
			tm.Close(nil)
		}
	}, time.Millisecond, time.Millisecond))
	require.NoError(t, tm.Again())

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 2, count)
	require.NoError(t, l.Close())
}

func TestTimerZeroTimeout(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	fired := false
	tm := NewTimer(l)
	require.NoError(t, tm.Start(func() {
		fired = true
		tm.Close(nil)
	}, 0, 0))

	require.NoError(t, l.Run(RunNoWait))
	require.True(t, fired, "a zero timeout is due on the first iteration")
	require.NoError(t, l.Run(RunDefault))
	require.NoError(t, l.Close())
}

func TestTimerStartValidation(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	tm := NewTimer(l)
	require.ErrorIs(t, tm.Start(nil, 0, 0), EINVAL)
	require.ErrorIs(t, tm.Start(func() {}, -1, 0), EINVAL)

	require.NoError(t, tm.Close(nil))
	require.ErrorIs(t, tm.Start(func() {}, 0, 0), EINVAL, "start after close is rejected")
	require.ErrorIs(t, tm.Stop(), EINVAL)
	require.NoError(t, l.Run(RunDefault))
	require.NoError(t, l.Close())
}

func TestTimerRestartReplacesDeadline(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	fired := 0
	tm := NewTimer(l)
	require.NoError(t, tm.Start(func() { fired++ }, time.Hour, 0))
	// Re-arm with a near deadline; the old entry must not fire.
	require.NoError(t, tm.Start(func() {
		fired++
		tm.Close(nil)
	}, time.Millisecond, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 1, fired)
	require.NoError(t, l.Close())
}

func TestTimerHeapSequenceTieBreak(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	// Drive the heap directly: identical deadlines must pop in push
	// order regardless of heap shuffles.
	deadline := l.Now().Add(time.Hour)
	timers := make([]*Timer, 16)
	for i := range timers {
		tm := NewTimer(l)
		require.NoError(t, tm.Start(func() {}, time.Hour, 0))
		tm.deadline = deadline // normalize after Start for the tie
		timers[i] = tm
	}
	// Rebuild the heap with the forced ties.
	h := l.timers
	for _, tm := range timers {
		h.remove(tm)
	}
	for _, tm := range timers {
		h.push(tm)
	}

	var seqs []uint64
	for {
		top := h.peek()
		if top == nil {
			break
		}
		seqs = append(seqs, top.seq)
		h.remove(top)
	}
	require.Len(t, seqs, len(timers))
	for i := 1; i < len(seqs); i++ {
		require.Less(t, seqs[i-1], seqs[i], "ties pop in start-sequence order")
	}

	l.timers = l.timers[:0]
	for _, tm := range timers {
		tm.heapIdx = -1
		require.NoError(t, tm.Close(nil))
	}
	require.NoError(t, l.Run(RunDefault))
	require.NoError(t, l.Close())
}

func TestTimerDueIn(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	tm := NewTimer(l)
	require.Zero(t, tm.DueIn())
	require.NoError(t, tm.Start(func() {}, time.Minute, 0))
	require.Greater(t, tm.DueIn(), 50*time.Second)

	require.NoError(t, tm.Stop())
	drainClose(t, l, tm)
	require.NoError(t, l.Close())
}
