//go:build linux || darwin

package ioloop

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// TCPFlags modify TCP bind behavior.
type TCPFlags uint32

const (
	// TCPIPv6Only disables dual-stack on an IPv6 bind (IPV6_V6ONLY).
	TCPIPv6Only TCPFlags = 1 << iota
)

// TCP is a stream handle over a TCP socket. The socket is created lazily
// at Bind/Connect so the address family can follow the address given.
//
// SO_REUSEADDR is set on bind. TCP_NODELAY is off by default and
// toggleable via [TCP.SetNoDelay].
type TCP struct {
	Stream
}

// NewTCP creates an unbound, unconnected TCP handle.
func NewTCP(l *Loop) *TCP {
	t := &TCP{}
	t.initStream(l, KindTCP)
	return t
}

// Open adopts an existing connected or listening socket fd.
func (t *TCP) Open(fd int) error {
	return t.openFd(fd)
}

// maybeSocket creates the socket for the given address family.
func (t *TCP) maybeSocket(family int) error {
	if t.fd >= 0 {
		return nil
	}
	fd, err := newSocket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return err
	}
	t.fd = fd
	t.flags |= flagReadable | flagWritable
	return nil
}

// Bind binds the socket to addr. IPv6 binds are dual-stack unless
// [TCPIPv6Only] is given.
func (t *TCP) Bind(addr *net.TCPAddr, flags TCPFlags) error {
	if t.IsClosing() {
		return EINVAL
	}
	if addr == nil {
		return EINVAL
	}
	sa, family, err := tcpAddrToSockaddr(addr)
	if err != nil {
		return err
	}
	if err := t.maybeSocket(family); err != nil {
		return err
	}

	if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	if family == unix.AF_INET6 {
		v6only := 0
		if flags&TCPIPv6Only != 0 {
			v6only = 1
		}
		if err := unix.SetsockoptInt(t.fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			return translateErrno(err.(unix.Errno))
		}
	}
	if err := unix.Bind(t.fd, sa); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	return nil
}

// Listen starts accepting connections; cb fires once per incoming
// connection, which the host claims via [Stream.Accept] into a fresh
// [TCP] handle. The backlog passes through to the OS untouched.
func (t *TCP) Listen(backlog int, cb ConnectionCallback) error {
	if t.IsClosing() {
		return EINVAL
	}
	if t.fd < 0 {
		return EBADF
	}
	return t.startListen(backlog, cb)
}

// Connect begins a connection to addr. The callback fires exactly once:
// with nil on establishment, the failure errno otherwise, or ECANCELED
// (before the close callback) if the handle is closed first.
func (t *TCP) Connect(req *ConnectRequest, addr *net.TCPAddr, cb ConnectCallback) error {
	if t.IsClosing() {
		return EINVAL
	}
	if req == nil || req.inFlight || addr == nil {
		return EINVAL
	}
	if t.connectReq != nil {
		return EALREADY
	}
	sa, family, err := tcpAddrToSockaddr(addr)
	if err != nil {
		return err
	}
	if err := t.maybeSocket(family); err != nil {
		return err
	}

	cerr := unix.Connect(t.fd, sa)
	if cerr != nil && cerr != unix.EINPROGRESS {
		return translateErrno(cerr.(unix.Errno))
	}
	// Even an immediate success is resolved through write readiness so
	// the callback timing is uniform.
	return t.startConnect(req, cb)
}

// SetNoDelay toggles TCP_NODELAY (Nagle's algorithm off when enabled).
func (t *TCP) SetNoDelay(enable bool) error {
	if t.fd < 0 {
		return EBADF
	}
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(t.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	return nil
}

// SetKeepAlive toggles SO_KEEPALIVE, with the initial probe delay when
// enabled and the platform supports it.
func (t *TCP) SetKeepAlive(enable bool, delay time.Duration) error {
	if t.fd < 0 {
		return EBADF
	}
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	if enable && delay > 0 {
		if err := setKeepAliveIdle(t.fd, int(delay.Seconds())); err != nil {
			return err
		}
	}
	return nil
}

// SockName returns the locally bound address.
func (t *TCP) SockName() (*net.TCPAddr, error) {
	if t.fd < 0 {
		return nil, EBADF
	}
	sa, err := unix.Getsockname(t.fd)
	if err != nil {
		return nil, translateErrno(err.(unix.Errno))
	}
	return sockaddrToTCPAddr(sa)
}

// PeerName returns the remote address of a connected socket.
func (t *TCP) PeerName() (*net.TCPAddr, error) {
	if t.fd < 0 {
		return nil, EBADF
	}
	sa, err := unix.Getpeername(t.fd)
	if err != nil {
		return nil, translateErrno(err.(unix.Errno))
	}
	return sockaddrToTCPAddr(sa)
}

// tcpAddrToSockaddr converts a net.TCPAddr into the syscall form plus
// its address family. A nil/unspecified IP binds the wildcard address.
func tcpAddrToSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip := addr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip16)
		if addr.Zone != "" {
			ifi, err := net.InterfaceByName(addr.Zone)
			if err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, EADDRNOTAVAIL
}

// sockaddrToTCPAddr is the inverse conversion.
func sockaddrToTCPAddr(sa unix.Sockaddr) (*net.TCPAddr, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}, nil
	default:
		return nil, EADDRNOTAVAIL
	}
}
