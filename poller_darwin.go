//go:build darwin

package ioloop

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Standard poller errors.
var (
	ErrFDOutOfRange = errors.New("ioloop: fd out of range")
	ErrFDNotWatched = errors.New("ioloop: fd not watched")
	ErrPollerClosed = errors.New("ioloop: poller closed")
)

// ioPoller manages readiness watches using kqueue (Darwin).
//
// Read and write interest map to separate EVFILT_READ/EVFILT_WRITE
// registrations. The descriptor table is a dynamic slice indexed directly
// by fd. Loop-thread-only; no locking.
type ioPoller struct {
	kq       int
	fds      []pollDesc
	eventBuf [256]unix.Kevent_t
	closed   bool
}

// init creates the kqueue instance.
func (p *ioPoller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.fds = make([]pollDesc, 1024)
	return nil
}

// close releases the kqueue instance.
func (p *ioPoller) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.kq)
}

// kevent applies a single filter change.
func (p *ioPoller) kevent(fd int, filter int16, flags uint16) error {
	ev := [1]unix.Kevent_t{}
	unix.SetKevent(&ev[0], fd, int(filter), int(flags))
	_, err := unix.Kevent(p.kq, ev[:], nil, nil)
	return err
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
	add := events &^ d.events
	if add&EventRead != 0 {
		if err := p.kevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
	}
	if add&EventWrite != 0 {
		if err := p.kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			if add&EventRead != 0 {
				_ = p.kevent(fd, unix.EVFILT_READ, unix.EV_DELETE)
			}
			return err
		}
	}

	d.events |= events
	if cb != nil {
		d.cb = cb
	}
	d.active = true
	return nil
}

// unwatch narrows or removes interest in events on fd.
func (p *ioPoller) unwatch(fd int, events IOEvents) error {
	if fd < 0 || fd >= len(p.fds) {
		return ErrFDOutOfRange
	}
	d := &p.fds[fd]
	if !d.active {
		return ErrFDNotWatched
	}

	drop := d.events & events
	if drop&EventRead != 0 {
		// kqueue removes filters for closed fds automatically; tolerate
		// EBADF/ENOENT from a close(2) that ran first.
		if err := p.kevent(fd, unix.EVFILT_READ, unix.EV_DELETE); err != nil && err != unix.EBADF && err != unix.ENOENT {
			return err
		}
	}
	if drop&EventWrite != 0 {
		if err := p.kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE); err != nil && err != unix.EBADF && err != unix.ENOENT {
			return err
		}
	}

	d.events &^= events
	if d.events == 0 {
		*d = pollDesc{}
	}
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
//
// Read filters are dispatched before write filters so that, for a single
// fd reported ready both ways, the read callback observes the data first.
func (p *ioPoller) poll(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.dispatch(n, unix.EVFILT_READ)
	p.dispatch(n, unix.EVFILT_WRITE)

	return n, nil
}

// dispatch invokes callbacks for ready entries matching filter.
func (p *ioPoller) dispatch(n int, filter int16) {
	for i := 0; i < n; i++ {
		ev := &p.eventBuf[i]
		if ev.Filter != filter {
			continue
		}
		fd := int(ev.Ident)
		if fd < 0 || fd >= len(p.fds) {
			continue
		}
		// Re-read per event: an earlier callback in this batch may have
		// unwatched or closed this fd.
		d := &p.fds[fd]
		if !d.active || d.cb == nil {
			continue
		}

		var events IOEvents
		switch filter {
		case unix.EVFILT_READ:
			events = EventRead
		case unix.EVFILT_WRITE:
			events = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventError
		}
		if events&d.events == 0 && events&(EventError|EventHangup) == 0 {
			continue
		}
		d.cb(events)
	}
}
