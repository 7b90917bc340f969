package ioloop

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestErrnoNames(t *testing.T) {
	require.Equal(t, "ECONNRESET", ECONNRESET.Name())
	require.Equal(t, "ECONNRESET: connection reset by peer", ECONNRESET.Error())
	require.Equal(t, "connection reset by peer", ECONNRESET.Message())
	require.Equal(t, "EUNKNOWN", Errno(9999).Name())
	require.Equal(t, "EUNKNOWN: unknown error", Errno(9999).Error())
}

func TestErrnoTimeout(t *testing.T) {
	require.True(t, ETIMEDOUT.Timeout())
	require.True(t, EAGAIN.Timeout())
	require.False(t, EPIPE.Timeout())
}

func TestTranslateUnixErrno(t *testing.T) {
	require.Equal(t, ECONNRESET, Translate(unix.ECONNRESET))
	require.Equal(t, EPIPE, Translate(unix.EPIPE))
	require.Equal(t, ENOENT, Translate(unix.ENOENT))
	require.Equal(t, EMFILE, Translate(unix.EMFILE))
}

func TestTranslateWrappedErrors(t *testing.T) {
	perr := &os.PathError{Op: "open", Path: "/nope", Err: unix.ENOENT}
	require.Equal(t, ENOENT, Translate(perr))

	require.Equal(t, ENOENT, Translate(fs.ErrNotExist))
	require.Equal(t, EACCES, Translate(fs.ErrPermission))
	require.Equal(t, EEXIST, Translate(fs.ErrExist))
}

func TestTranslatePassthrough(t *testing.T) {
	require.Nil(t, Translate(nil))
	require.Equal(t, io.EOF, Translate(io.EOF), "EOF is a read result, not an error kind")

	sentinel := errors.New("host error")
	require.Equal(t, sentinel, Translate(sentinel))

	// Already-translated values survive a second pass.
	require.Equal(t, ECANCELED, Translate(ECANCELED))
}

func TestErrnoName(t *testing.T) {
	require.Equal(t, "EOF", ErrnoName(io.EOF))
	require.Equal(t, "ECONNRESET", ErrnoName(ECONNRESET))
	require.Equal(t, "EPIPE", ErrnoName(unix.EPIPE))
	require.Equal(t, "", ErrnoName(nil))
	require.Equal(t, "", ErrnoName(errors.New("host error")))
}

func TestErrnoIsLeafError(t *testing.T) {
	var e Errno
	require.True(t, errors.As(ECONNRESET, &e))
	require.Equal(t, ECONNRESET, e)
	require.False(t, errors.Is(ECONNRESET, ECONNREFUSED))
}
