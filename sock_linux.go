//go:build linux

package ioloop

import (
	"golang.org/x/sys/unix"
)

// newSocket creates a non-blocking, close-on-exec socket.
func newSocket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, translateErrno(err.(unix.Errno))
	}
	return fd, nil
}

// newSocketpair creates a connected non-blocking, close-on-exec pair of
// local sockets. Used for IPC-capable child stdio and pipe channels.
func newSocketpair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fds, translateErrno(err.(unix.Errno))
	}
	return fds, nil
}

// setKeepAliveIdle sets the idle time before keep-alive probes start.
func setKeepAliveIdle(fd, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	return nil
}

// acceptSocket accepts one connection, non-blocking and close-on-exec.
func acceptSocket(fd int) (int, error) {
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, translateErrno(err.(unix.Errno))
		}
		return nfd, nil
	}
}
