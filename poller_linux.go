//go:build linux

package ioloop

import (
	"golang.org/x/sys/unix"

	"errors"
)

// Standard poller errors.
var (
	ErrFDOutOfRange = errors.New("ioloop: fd out of range")
	ErrFDNotWatched = errors.New("ioloop: fd not watched")
	ErrPollerClosed = errors.New("ioloop: poller closed")
)

// ioPoller manages readiness watches using epoll (Linux).
//
// The descriptor table is a dynamic slice indexed directly by fd — no map
// lookups on the dispatch path. The poller is owned by the loop thread;
// no locking (cross-thread wake-ups arrive via the loop's wake fd, which
// is itself watched here).
type ioPoller struct {
	epfd     int
	fds      []pollDesc
	eventBuf [256]unix.EpollEvent
	closed   bool
}

// init creates the epoll instance.
func (p *ioPoller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.fds = make([]pollDesc, 1024)
	return nil
}

// close releases the epoll instance.
func (p *ioPoller) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

// watch registers (or widens) interest in events on fd.
func (p *ioPoller) watch(fd int, events IOEvents, cb ioCallback) error {
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	d := descFor(&p.fds, fd)
	op := unix.EPOLL_CTL_ADD
	mask := events
	if d.active {
		if d.events&events == events && (cb == nil || d.cb == nil) {
			return nil
		}
		op = unix.EPOLL_CTL_MOD
		mask |= d.events
	}

	ev := unix.EpollEvent{
		Events: eventsToEpoll(mask),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return err
	}

	d.events = mask
	if cb != nil {
		d.cb = cb
	}
	d.active = true
	return nil
}

// unwatch narrows or removes interest in events on fd. When no events
// remain the fd is deregistered entirely.
func (p *ioPoller) unwatch(fd int, events IOEvents) error {
	if fd < 0 || fd >= len(p.fds) {
		return ErrFDOutOfRange
	}
	d := &p.fds[fd]
	if !d.active {
		return ErrFDNotWatched
	}

	remaining := d.events &^ events
	if remaining == 0 {
		*d = pollDesc{}
		// The kernel removes closed fds on its own; tolerate EBADF/ENOENT
		// from a close(2) that ran before the deregistration.
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
			return err
		}
		return nil
	}

	ev := unix.EpollEvent{
		Events: eventsToEpoll(remaining),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	d.events = remaining
	return nil
}

// watched returns the currently registered mask for fd (0 if none).
func (p *ioPoller) watched(fd int) IOEvents {
	if fd < 0 || fd >= len(p.fds) || !p.fds[fd].active {
		return 0
	}
	return p.fds[fd].events
}

// poll blocks up to timeoutMs (-1 blocks indefinitely, 0 polls) and
// dispatches ready callbacks inline. Returns the number of ready entries.
func (p *ioPoller) poll(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= len(p.fds) {
			continue
		}
		// Re-read the descriptor per event: an earlier callback in this
		// batch may have unwatched or closed this fd.
		d := &p.fds[fd]
		if !d.active || d.cb == nil {
			continue
		}

		events := epollToEvents(p.eventBuf[i].Events)
		// Error/hangup wake both directions so drain loops observe the
		// failure from the syscall itself.
		if events&(EventError|EventHangup) != 0 {
			events |= EventRead | EventWrite
		}
		events &= d.events | EventError | EventHangup
		if events == 0 {
			continue
		}
		d.cb(events)
	}

	return n, nil
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
