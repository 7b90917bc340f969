//go:build linux || darwin

package ioloop

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// setNonblockCloexec prepares an fd for use with the poller.
func setNonblockCloexec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	unix.CloseOnExec(fd)
	return nil
}

// readFD reads from fd, retrying on EINTR. Returns (0, EAGAIN) when the
// read would block.
func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, translateErrno(err.(unix.Errno))
		}
		return n, nil
	}
}

// writeFD writes to fd, retrying on EINTR.
func writeFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, translateErrno(err.(unix.Errno))
		}
		return n, nil
	}
}
