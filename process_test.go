//go:build linux || darwin

package ioloop

import (
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSpawnCatRoundTrip is the spawn scenario: run cat with a stdin pipe
// and a stdout pipe, write "ping\n", close stdin, and collect the echo
// until cat exits cleanly.
func TestSpawnCatRoundTrip(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	stdin := NewPipe(l, false)
	stdout := NewPipe(l, false)

	var exitStatus int64 = -1
	termSignal := -1
	var proc *Process
	proc, err = SpawnProcess(l, &ProcessOptions{
		File: "cat",
		Args: []string{"cat"},
		Stdio: []StdioOption{
			{Type: StdioCreatePipe, Pipe: stdin, Readable: true},
			{Type: StdioCreatePipe, Pipe: stdout, Writable: true},
			{Type: StdioIgnore},
		},
		OnExit: func(p *Process, status int64, sig int) {
			exitStatus = status
			termSignal = sig
			require.NoError(t, p.Close(nil))
		},
	})
	require.NoError(t, err)
	require.Positive(t, proc.PID())

	var got []byte
	require.NoError(t, stdout.ReadStart(testAlloc, func(s *Stream, buf []byte, rerr error) {
		switch {
		case rerr == io.EOF:
			require.NoError(t, stdout.Close(nil))
		case rerr != nil:
			t.Errorf("stdout read error: %v", rerr)
		default:
			got = append(got, buf...)
		}
	}))

	wreq := &WriteRequest{}
	require.NoError(t, stdin.Write(wreq, [][]byte{[]byte("ping\n")}, func(werr error) {
		require.NoError(t, werr)
		sreq := &ShutdownRequest{}
		require.NoError(t, stdin.Shutdown(sreq, func(serr error) {
			require.NoError(t, serr)
			require.NoError(t, stdin.Close(nil))
		}))
	}))

	require.NoError(t, l.Run(RunDefault))

	require.Equal(t, "ping\n", string(got))
	require.Equal(t, int64(0), exitStatus)
	require.Equal(t, 0, termSignal)
	require.NoError(t, l.Close())
}

func TestSpawnMissingExecutable(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = SpawnProcess(l, &ProcessOptions{File: "definitely-not-a-real-binary-7d1f"})
	require.ErrorIs(t, err, ENOENT)

	_, err = SpawnProcess(l, &ProcessOptions{File: "/var/empty/nope/definitely-not-here"})
	require.ErrorIs(t, err, ENOENT)

	require.NoError(t, l.Close())
}

func TestSpawnKill(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	termSignal := 0
	var proc *Process
	proc, err = SpawnProcess(l, &ProcessOptions{
		File: "sleep",
		Args: []string{"sleep", "60"},
		OnExit: func(p *Process, status int64, sig int) {
			termSignal = sig
			require.NoError(t, p.Close(nil))
		},
	})
	require.NoError(t, err)

	killer := NewTimer(l)
	require.NoError(t, killer.Start(func() {
		require.NoError(t, proc.Kill(os.Interrupt))
		killer.Close(nil)
	}, 10*time.Millisecond, 0))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, int(syscall.SIGINT), termSignal)
	require.NoError(t, l.Close())
}

func TestSpawnValidation(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = SpawnProcess(l, nil)
	require.ErrorIs(t, err, EINVAL)
	_, err = SpawnProcess(l, &ProcessOptions{})
	require.ErrorIs(t, err, EINVAL)
	_, err = SpawnProcess(l, &ProcessOptions{
		File:  "cat",
		Stdio: []StdioOption{{Type: StdioCreatePipe, Pipe: nil}},
	})
	require.ErrorIs(t, err, EINVAL)

	require.NoError(t, l.Close())
}

func TestKillInvalidPid(t *testing.T) {
	// pid far outside any plausible range; ESRCH maps through.
	require.ErrorIs(t, Kill(1<<29, syscall.Signal(0)), ESRCH)
}
