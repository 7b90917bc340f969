//go:build linux || darwin

package ioloop

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalDelivery(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	fired := 0
	sig := NewSignal(l)
	require.NoError(t, sig.Start(syscall.SIGUSR1, func(got os.Signal) {
		require.Equal(t, syscall.SIGUSR1, got)
		fired++
		require.NoError(t, sig.Stop())
		require.NoError(t, sig.Close(nil))
	}))
	require.Equal(t, syscall.SIGUSR1, sig.Signum())

	kicker := NewTimer(l)
	require.NoError(t, kicker.Start(func() {
		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
		kicker.Close(nil)
	}, 5*time.Millisecond, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 1, fired)
	require.NoError(t, l.Close())
}

func TestSignalMultipleWatchersSameSignal(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	hits := 0
	var a, b *Signal
	done := func() {
		hits++
		if hits == 2 {
			require.NoError(t, a.Close(nil))
			require.NoError(t, b.Close(nil))
		}
	}
	a = NewSignal(l)
	b = NewSignal(l)
	require.NoError(t, a.Start(syscall.SIGUSR2, func(os.Signal) { done() }))
	require.NoError(t, b.Start(syscall.SIGUSR2, func(os.Signal) { done() }))

	kicker := NewTimer(l)
	require.NoError(t, kicker.Start(func() {
		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))
		kicker.Close(nil)
	}, 5*time.Millisecond, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, 2, hits, "every watcher of the signal fires")
	require.NoError(t, l.Close())
}

func TestSignalValidation(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	sig := NewSignal(l)
	require.ErrorIs(t, sig.Start(nil, func(os.Signal) {}), EINVAL)
	require.ErrorIs(t, sig.Start(syscall.SIGUSR1, nil), EINVAL)

	require.NoError(t, sig.Start(syscall.SIGUSR1, func(os.Signal) {}))
	require.ErrorIs(t, sig.Start(syscall.SIGUSR1, func(os.Signal) {}), EBUSY,
		"starting an already-active watcher is rejected")

	require.NoError(t, sig.Stop())
	drainClose(t, l, sig)
	require.NoError(t, l.Close())
}
