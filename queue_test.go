package ioloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackQueueFIFO(t *testing.T) {
	var q callbackQueue
	var got []int

	const n = chunkSize*3 + 17 // force several chunk transitions
	for i := 0; i < n; i++ {
		i := i
		q.push(func() { got = append(got, i) })
	}
	require.Equal(t, n, q.len())

	for {
		fn, ok := q.pop()
		if !ok {
			break
		}
		fn()
	}
	require.Equal(t, 0, q.len())
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestCallbackQueueInterleaved(t *testing.T) {
	var q callbackQueue
	next := 0
	var got []int

	for round := 0; round < 50; round++ {
		for i := 0; i < 7; i++ {
			v := next
			next++
			q.push(func() { got = append(got, v) })
		}
		for i := 0; i < 5; i++ {
			fn, ok := q.pop()
			require.True(t, ok)
			fn()
		}
	}
	for {
		fn, ok := q.pop()
		if !ok {
			break
		}
		fn()
	}

	require.Len(t, got, next)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestCallbackQueueTake(t *testing.T) {
	var q callbackQueue
	count := 0
	for i := 0; i < 10; i++ {
		q.push(func() { count++ })
	}

	detached := q.take()
	require.Equal(t, 0, q.len(), "take leaves the original empty")
	require.Equal(t, 10, detached.len())

	// New pushes land in the original, not the detached copy.
	q.push(func() { count += 100 })

	for {
		fn, ok := detached.pop()
		if !ok {
			break
		}
		fn()
	}
	require.Equal(t, 10, count)

	fn, ok := q.pop()
	require.True(t, ok)
	fn()
	require.Equal(t, 110, count)
}

func TestCallbackQueuePopEmpty(t *testing.T) {
	var q callbackQueue
	fn, ok := q.pop()
	require.False(t, ok)
	require.Nil(t, fn)
}
