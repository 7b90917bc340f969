//go:build darwin

package ioloop

import (
	"golang.org/x/sys/unix"
)

// newSocket creates a non-blocking, close-on-exec socket. Darwin has no
// SOCK_NONBLOCK/SOCK_CLOEXEC, so the flags are applied after creation.
func newSocket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, translateErrno(err.(unix.Errno))
	}
	if err := setNonblockCloexec(fd); err != nil {
		_ = unix.Close(fd)
		return -1, Translate(err)
	}
	return fd, nil
}

// newSocketpair creates a connected non-blocking, close-on-exec pair of
// local sockets. Used for IPC-capable child stdio and pipe channels.
func newSocketpair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return fds, translateErrno(err.(unix.Errno))
	}
	for _, fd := range fds {
		if serr := setNonblockCloexec(fd); serr != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return fds, Translate(serr)
		}
	}
	return fds, nil
}

// setKeepAliveIdle sets the idle time before keep-alive probes start.
// Darwin spells TCP_KEEPIDLE as TCP_KEEPALIVE.
func setKeepAliveIdle(fd, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	return nil
}

// acceptSocket accepts one connection, non-blocking and close-on-exec.
// Darwin has no accept4(2); the flags are applied after the fact.
func acceptSocket(fd int) (int, error) {
	for {
		nfd, _, err := unix.Accept(fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, translateErrno(err.(unix.Errno))
		}
		if serr := setNonblockCloexec(nfd); serr != nil {
			_ = unix.Close(nfd)
			return -1, Translate(serr)
		}
		return nfd, nil
	}
}
