//go:build darwin

package ioloop

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a self-pipe for cross-thread wake-up notifications
// (Darwin). Returns the read end and the write end of the pipe.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}

	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}

	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}

	return fds[0], fds[1], nil
}

// closeWakeFd closes both wake pipe ends.
func closeWakeFd(wakeFd, wakeWriteFd int) {
	if wakeFd >= 0 {
		_ = unix.Close(wakeFd)
	}
	if wakeWriteFd >= 0 && wakeWriteFd != wakeFd {
		_ = unix.Close(wakeWriteFd)
	}
}
