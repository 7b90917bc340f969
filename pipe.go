//go:build linux || darwin

package ioloop

import (
	"golang.org/x/sys/unix"
)

// Pipe is a stream handle over a Unix-domain socket. In IPC mode,
// ancillary data carries file descriptors: [Stream.Write2] passes a
// stream's fd to the peer, and received descriptors surface through
// [Stream.PendingCount]/[Stream.PendingType]/[Stream.Accept], one per
// read callback.
type Pipe struct {
	Stream
}

// NewPipe creates an unbound pipe handle. ipc enables descriptor
// passing over this pipe.
func NewPipe(l *Loop, ipc bool) *Pipe {
	p := &Pipe{}
	p.initStream(l, KindPipe)
	if ipc {
		p.flags |= flagIPC
	}
	return p
}

// IPC reports whether the pipe passes descriptors.
func (p *Pipe) IPC() bool { return p.flags&flagIPC != 0 }

// Open adopts an existing descriptor — one end of a socketpair, an
// inherited stdio channel, or a connected Unix socket.
func (p *Pipe) Open(fd int) error {
	return p.openFd(fd)
}

// maybeSocket creates the pipe's socket on demand.
func (p *Pipe) maybeSocket() error {
	if p.fd >= 0 {
		return nil
	}
	fd, err := newSocket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	p.fd = fd
	p.flags |= flagReadable | flagWritable
	return nil
}

// Bind binds the pipe to a filesystem path (or, on Linux, an abstract
// socket name beginning with '@', translated to a leading NUL).
func (p *Pipe) Bind(name string) error {
	if p.IsClosing() {
		return EINVAL
	}
	if name == "" {
		return EINVAL
	}
	if err := p.maybeSocket(); err != nil {
		return err
	}
	sa := &unix.SockaddrUnix{Name: pipeAddrName(name)}
	if err := unix.Bind(p.fd, sa); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	return nil
}

// Listen starts accepting connections on a bound pipe.
func (p *Pipe) Listen(backlog int, cb ConnectionCallback) error {
	if p.IsClosing() {
		return EINVAL
	}
	if p.fd < 0 {
		return EBADF
	}
	return p.startListen(backlog, cb)
}

// Connect begins a connection to the pipe at name. Like TCP connects,
// the callback resolves through write readiness so its timing is
// uniform, and close-cancellation delivers ECANCELED first.
func (p *Pipe) Connect(req *ConnectRequest, name string, cb ConnectCallback) error {
	if p.IsClosing() {
		return EINVAL
	}
	if req == nil || req.inFlight || name == "" {
		return EINVAL
	}
	if p.connectReq != nil {
		return EALREADY
	}
	if err := p.maybeSocket(); err != nil {
		return err
	}

	sa := &unix.SockaddrUnix{Name: pipeAddrName(name)}
	cerr := unix.Connect(p.fd, sa)
	if cerr != nil && cerr != unix.EINPROGRESS && cerr != unix.EAGAIN {
		return translateErrno(cerr.(unix.Errno))
	}
	return p.startConnect(req, cb)
}

// SockName returns the bound path, empty for unbound pipes.
func (p *Pipe) SockName() (string, error) {
	if p.fd < 0 {
		return "", EBADF
	}
	sa, err := unix.Getsockname(p.fd)
	if err != nil {
		return "", translateErrno(err.(unix.Errno))
	}
	if ua, ok := sa.(*unix.SockaddrUnix); ok {
		return ua.Name, nil
	}
	return "", EADDRNOTAVAIL
}

// PeerName returns the peer's bound path for connected pipes.
func (p *Pipe) PeerName() (string, error) {
	if p.fd < 0 {
		return "", EBADF
	}
	sa, err := unix.Getpeername(p.fd)
	if err != nil {
		return "", translateErrno(err.(unix.Errno))
	}
	if ua, ok := sa.(*unix.SockaddrUnix); ok {
		return ua.Name, nil
	}
	return "", EADDRNOTAVAIL
}

// pipeAddrName maps '@'-prefixed names to the abstract namespace.
func pipeAddrName(name string) string {
	if len(name) > 0 && name[0] == '@' {
		return "\x00" + name[1:]
	}
	return name
}
