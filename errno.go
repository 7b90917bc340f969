package ioloop

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Errno is the operation result space shared by every callback in this
// package. It mirrors the POSIX errno names so hosts can match on stable
// identifiers regardless of platform, while [Translate] maps raw
// [unix.Errno] and stdlib error values into it.
//
// An Errno is a leaf error: it has no cause chain. EOF is deliberately
// excluded — end-of-stream is reported as [io.EOF] and is a read result,
// not an error condition (callbacks must handle it explicitly).
type Errno int

const (
	EAGAIN Errno = iota + 1
	EINVAL
	EBADF
	EBUSY
	ECANCELED
	ECONNRESET
	ECONNREFUSED
	ECONNABORTED
	EADDRINUSE
	EADDRNOTAVAIL
	ENOTCONN
	EISCONN
	EMFILE
	ENFILE
	ENOENT
	EACCES
	EPERM
	ENOSPC
	ENOBUFS
	ENOMEM
	EPIPE
	ENOTSUP
	ETIMEDOUT
	EEXIST
	ESRCH
	ENOTDIR
	EISDIR
	EROFS
	ENOTEMPTY
	EXDEV
	EPROTO
	EINTR
	EFAULT
	ENAMETOOLONG
	ELOOP
	ERANGE
	EIO
	ENXIO
	ENODEV
	ESPIPE
	EALREADY
	EAI // condensed getaddrinfo failure (EAI_* family)
)

// errnoText maps each Errno to its name and human-readable message.
var errnoText = map[Errno][2]string{
	EAGAIN:        {"EAGAIN", "resource temporarily unavailable"},
	EINVAL:        {"EINVAL", "invalid argument"},
	EBADF:         {"EBADF", "bad file descriptor"},
	EBUSY:         {"EBUSY", "resource busy or locked"},
	ECANCELED:     {"ECANCELED", "operation canceled"},
	ECONNRESET:    {"ECONNRESET", "connection reset by peer"},
	ECONNREFUSED:  {"ECONNREFUSED", "connection refused"},
	ECONNABORTED:  {"ECONNABORTED", "software caused connection abort"},
	EADDRINUSE:    {"EADDRINUSE", "address already in use"},
	EADDRNOTAVAIL: {"EADDRNOTAVAIL", "address not available"},
	ENOTCONN:      {"ENOTCONN", "socket is not connected"},
	EISCONN:       {"EISCONN", "socket is already connected"},
	EMFILE:        {"EMFILE", "too many open files"},
	ENFILE:        {"ENFILE", "file table overflow"},
	ENOENT:        {"ENOENT", "no such file or directory"},
	EACCES:        {"EACCES", "permission denied"},
	EPERM:         {"EPERM", "operation not permitted"},
	ENOSPC:        {"ENOSPC", "no space left on device"},
	ENOBUFS:       {"ENOBUFS", "no buffer space available"},
	ENOMEM:        {"ENOMEM", "not enough memory"},
	EPIPE:         {"EPIPE", "broken pipe"},
	ENOTSUP:       {"ENOTSUP", "operation not supported"},
	ETIMEDOUT:     {"ETIMEDOUT", "connection timed out"},
	EEXIST:        {"EEXIST", "file already exists"},
	ESRCH:         {"ESRCH", "no such process"},
	ENOTDIR:       {"ENOTDIR", "not a directory"},
	EISDIR:        {"EISDIR", "illegal operation on a directory"},
	EROFS:         {"EROFS", "read-only file system"},
	ENOTEMPTY:     {"ENOTEMPTY", "directory not empty"},
	EXDEV:         {"EXDEV", "cross-device link not permitted"},
	EPROTO:        {"EPROTO", "protocol error"},
	EINTR:         {"EINTR", "interrupted system call"},
	EFAULT:        {"EFAULT", "bad address in system call argument"},
	ENAMETOOLONG:  {"ENAMETOOLONG", "name too long"},
	ELOOP:         {"ELOOP", "too many symbolic links encountered"},
	ERANGE:        {"ERANGE", "result too large"},
	EIO:           {"EIO", "i/o error"},
	ENXIO:         {"ENXIO", "no such device or address"},
	ENODEV:        {"ENODEV", "no such device"},
	ESPIPE:        {"ESPIPE", "invalid seek"},
	EALREADY:      {"EALREADY", "connection already in progress"},
	EAI:           {"EAI", "getaddrinfo failed"},
}

// Error implements the error interface as "NAME: message".
func (e Errno) Error() string {
	if t, ok := errnoText[e]; ok {
		return t[0] + ": " + t[1]
	}
	return "EUNKNOWN: unknown error"
}

// Name returns the stable errno identifier, e.g. "ECONNRESET".
func (e Errno) Name() string {
	if t, ok := errnoText[e]; ok {
		return t[0]
	}
	return "EUNKNOWN"
}

// Message returns the human-readable description.
func (e Errno) Message() string {
	if t, ok := errnoText[e]; ok {
		return t[1]
	}
	return "unknown error"
}

// Timeout reports whether the errno represents a timeout, for callers
// matching via net.Error-style checks.
func (e Errno) Timeout() bool { return e == ETIMEDOUT || e == EAGAIN }

// ErrnoName returns the stable errno identifier for any error in this
// package's result space: "EOF" for [io.EOF], the Errno name after
// [Translate] otherwise, and "" for errors outside the space.
func ErrnoName(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.EOF) {
		return "EOF"
	}
	var e Errno
	if errors.As(Translate(err), &e) {
		return e.Name()
	}
	return ""
}

// unixErrnoMap translates raw OS errno values.
var unixErrnoMap = map[unix.Errno]Errno{
	unix.EAGAIN:        EAGAIN,
	unix.EINVAL:        EINVAL,
	unix.EBADF:         EBADF,
	unix.EBUSY:         EBUSY,
	unix.ECANCELED:     ECANCELED,
	unix.ECONNRESET:    ECONNRESET,
	unix.ECONNREFUSED:  ECONNREFUSED,
	unix.ECONNABORTED:  ECONNABORTED,
	unix.EADDRINUSE:    EADDRINUSE,
	unix.EADDRNOTAVAIL: EADDRNOTAVAIL,
	unix.ENOTCONN:      ENOTCONN,
	unix.EISCONN:       EISCONN,
	unix.EMFILE:        EMFILE,
	unix.ENFILE:        ENFILE,
	unix.ENOENT:        ENOENT,
	unix.EACCES:        EACCES,
	unix.EPERM:         EPERM,
	unix.ENOSPC:        ENOSPC,
	unix.ENOBUFS:       ENOBUFS,
	unix.ENOMEM:        ENOMEM,
	unix.EPIPE:         EPIPE,
	unix.ENOTSUP:       ENOTSUP,
	unix.ETIMEDOUT:     ETIMEDOUT,
	unix.EEXIST:        EEXIST,
	unix.ESRCH:         ESRCH,
	unix.ENOTDIR:       ENOTDIR,
	unix.EISDIR:        EISDIR,
	unix.EROFS:         EROFS,
	unix.ENOTEMPTY:     ENOTEMPTY,
	unix.EXDEV:         EXDEV,
	unix.EPROTO:        EPROTO,
	unix.EINTR:         EINTR,
	unix.EFAULT:        EFAULT,
	unix.ENAMETOOLONG:  ENAMETOOLONG,
	unix.ELOOP:         ELOOP,
	unix.ERANGE:        ERANGE,
	unix.EIO:           EIO,
	unix.ENXIO:         ENXIO,
	unix.ENODEV:        ENODEV,
	unix.ESPIPE:        ESPIPE,
	unix.EALREADY:      EALREADY,
}

// Translate maps an arbitrary error to this package's result space.
//
// Raw [unix.Errno] values, [os.PathError]/[os.SyscallError] wrappers, and
// stdlib fs sentinels all collapse to the matching [Errno]. [io.EOF]
// passes through unchanged (it is a read result, not an error kind).
// Unrecognized errors are returned as-is so no information is lost.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	var ue unix.Errno
	if errors.As(err, &ue) {
		if mapped, ok := unixErrnoMap[ue]; ok {
			return mapped
		}
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrClosed):
		return EBADF
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ETIMEDOUT
	}
	return err
}

// translateErrno is the internal fast path for raw syscall results.
func translateErrno(ue unix.Errno) error {
	if mapped, ok := unixErrnoMap[ue]; ok {
		return mapped
	}
	return ue
}
