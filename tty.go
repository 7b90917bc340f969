//go:build linux || darwin

package ioloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

// TTYMode selects terminal input processing.
type TTYMode int

const (
	// TTYModeNormal is canonical, line-buffered input with echo.
	TTYModeNormal TTYMode = iota
	// TTYModeRaw disables canonical processing, echo, and signals-from-
	// keys; reads deliver bytes as typed.
	TTYModeRaw
)

// ttyOriginal remembers the first termios seen per fd so ResetTTYMode
// can restore the terminal even after abnormal teardown.
var ttyOriginal struct {
	sync.Mutex
	saved map[int]*unix.Termios
}

// TTY is a stream handle over a terminal descriptor.
type TTY struct {
	Stream
	mode TTYMode
}

// NewTTY wraps the terminal fd (typically 0, 1, or 2). readable marks
// the fd as the input side. The descriptor is duplicated so closing the
// handle never closes the caller's fd.
func NewTTY(l *Loop, fd int, readable bool) (*TTY, error) {
	if !isatty(fd) {
		return nil, EINVAL
	}
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, translateErrno(err.(unix.Errno))
	}
	t := &TTY{}
	t.initStream(l, KindTTY)
	if err := t.openFd(dup); err != nil {
		_ = unix.Close(dup)
		t.flags |= flagClosed // constructor failed; handle unusable
		t.unlink()
		return nil, err
	}
	if !readable {
		t.flags &^= flagReadable
	}
	return t, nil
}

// SetMode switches between normal and raw input processing. The original
// settings are recorded on first change for [ResetTTYMode].
func (t *TTY) SetMode(mode TTYMode) error {
	if t.IsClosing() || t.fd < 0 {
		return EINVAL
	}
	if mode == t.mode {
		return nil
	}

	tio, err := unix.IoctlGetTermios(t.fd, ioctlGetTermios)
	if err != nil {
		return translateErrno(err.(unix.Errno))
	}

	ttyOriginal.Lock()
	if ttyOriginal.saved == nil {
		ttyOriginal.saved = make(map[int]*unix.Termios)
	}
	if _, ok := ttyOriginal.saved[t.fd]; !ok {
		orig := *tio
		ttyOriginal.saved[t.fd] = &orig
	}
	orig := *ttyOriginal.saved[t.fd]
	ttyOriginal.Unlock()

	switch mode {
	case TTYModeNormal:
		*tio = orig
	case TTYModeRaw:
		tio.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
		tio.Oflag &^= unix.OPOST
		tio.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
		tio.Cflag &^= unix.CSIZE | unix.PARENB
		tio.Cflag |= unix.CS8
		tio.Cc[unix.VMIN] = 1
		tio.Cc[unix.VTIME] = 0
	default:
		return EINVAL
	}

	if err := unix.IoctlSetTermios(t.fd, ioctlSetTermios, tio); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	t.mode = mode
	return nil
}

// Mode returns the current input mode.
func (t *TTY) Mode() TTYMode { return t.mode }

// WindowSize returns the terminal dimensions in character cells.
func (t *TTY) WindowSize() (width, height int, err error) {
	if t.fd < 0 {
		return 0, 0, EBADF
	}
	ws, werr := unix.IoctlGetWinsize(t.fd, unix.TIOCGWINSZ)
	if werr != nil {
		return 0, 0, translateErrno(werr.(unix.Errno))
	}
	return int(ws.Col), int(ws.Row), nil
}

// ResetTTYMode restores every terminal this process put into raw mode.
// Call it on the way out, including from fatal-error paths.
func ResetTTYMode() error {
	ttyOriginal.Lock()
	defer ttyOriginal.Unlock()
	var firstErr error
	for fd, tio := range ttyOriginal.saved {
		if err := unix.IoctlSetTermios(fd, ioctlSetTermios, tio); err != nil && firstErr == nil {
			firstErr = translateErrno(err.(unix.Errno))
		}
	}
	ttyOriginal.saved = nil
	return firstErr
}

// isatty reports whether fd refers to a terminal.
func isatty(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	return err == nil
}
