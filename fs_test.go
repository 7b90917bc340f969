//go:build linux || darwin

package ioloop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFSSyncRoundTrip(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")

	var req FSRequest
	require.NoError(t, FSOpen(l, &req, path, unix.O_CREAT|unix.O_RDWR, 0o644, nil))
	fd := int(req.Result)
	require.GreaterOrEqual(t, fd, 0)

	require.NoError(t, FSWrite(l, &req, fd, []byte("payload"), 0, nil))
	require.Equal(t, int64(7), req.Result)

	buf := make([]byte, 16)
	require.NoError(t, FSRead(l, &req, fd, buf, 0, nil))
	require.Equal(t, int64(7), req.Result)
	require.Equal(t, "payload", string(buf[:req.Result]))

	require.NoError(t, FSFsync(l, &req, fd, nil))
	require.NoError(t, FSFdatasync(l, &req, fd, nil))
	require.NoError(t, FSFtruncate(l, &req, fd, 3, nil))

	require.NoError(t, FSFstat(l, &req, fd, nil))
	require.Equal(t, int64(3), req.Stat.Size)
	require.Positive(t, req.Stat.Mtime, "timestamps are nanoseconds")

	require.NoError(t, FSClose(l, &req, fd, nil))
	require.NoError(t, l.Close())
}

func TestFSStatRenameUnlink(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	moved := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	var req FSRequest
	require.NoError(t, FSStat(l, &req, path, nil))
	require.Equal(t, int64(1), req.Stat.Size)
	require.NotZero(t, req.Stat.Ino)

	require.NoError(t, FSAccess(l, &req, path, unix.R_OK, nil))
	require.NoError(t, FSRename(l, &req, path, moved, nil))
	require.ErrorIs(t, FSStat(l, &req, path, nil), ENOENT)
	require.NoError(t, FSUnlink(l, &req, moved, nil))
	require.ErrorIs(t, FSUnlink(l, &req, moved, nil), ENOENT)

	require.NoError(t, l.Close())
}

func TestFSDirectoryOps(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")

	var req FSRequest
	require.NoError(t, FSMkdir(l, &req, sub, 0o755, nil))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f1"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f2"), nil, 0o600))

	require.NoError(t, FSReadDir(l, &req, sub, nil))
	require.Equal(t, int64(2), req.Result)
	require.Equal(t, "f1", req.Entries[0].Name)
	require.Equal(t, "f2", req.Entries[1].Name)
	require.False(t, req.Entries[0].IsDir)

	require.NoError(t, FSMkdirTemp(l, &req, dir, "tmp-*", nil))
	require.NotEmpty(t, req.Path)
	require.NoError(t, FSRmdir(l, &req, req.Path, nil))

	require.NoError(t, os.RemoveAll(sub))
	require.NoError(t, l.Close())
}

func TestFSSymlinkReadlink(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.WriteFile(target, []byte("t"), 0o600))

	var req FSRequest
	require.NoError(t, FSSymlink(l, &req, target, link, nil))
	require.NoError(t, FSReadlink(l, &req, link, nil))
	require.Equal(t, target, req.Link)

	require.NoError(t, FSLstat(l, &req, link, nil))
	require.Equal(t, int64(unix.S_IFLNK), req.Stat.Mode&unix.S_IFMT)

	require.NoError(t, l.Close())
}

func TestFSCopyFile(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("copy me"), 0o600))

	var req FSRequest
	require.NoError(t, FSCopyFile(l, &req, src, dst, 0o644, nil))
	require.Equal(t, int64(7), req.Result)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "copy me", string(data))

	require.NoError(t, l.Close())
}

func TestFSAsyncChain(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "async.txt")

	openReq := &FSRequest{}
	writeReq := &FSRequest{}
	closeReq := &FSRequest{}
	statReq := &FSRequest{}
	var steps []string

	require.NoError(t, FSOpen(l, openReq, path, unix.O_CREAT|unix.O_WRONLY, 0o600, func(r *FSRequest) {
		require.NoError(t, r.Err)
		steps = append(steps, "open")
		fd := int(r.Result)
		require.NoError(t, FSWrite(l, writeReq, fd, []byte("chained"), -1, func(r *FSRequest) {
			require.NoError(t, r.Err)
			steps = append(steps, "write")
			require.NoError(t, FSClose(l, closeReq, fd, func(r *FSRequest) {
				require.NoError(t, r.Err)
				steps = append(steps, "close")
				require.NoError(t, FSStat(l, statReq, path, func(r *FSRequest) {
					require.NoError(t, r.Err)
					steps = append(steps, "stat")
				}))
			}))
		}))
	}))

	require.NoError(t, l.Run(RunDefault))
	require.Equal(t, []string{"open", "write", "close", "stat"}, steps)
	require.Equal(t, int64(7), statReq.Stat.Size)
	require.NoError(t, l.Close())
}

func TestFSAsyncErrorDelivery(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var got error
	req := &FSRequest{}
	require.NoError(t, FSStat(l, req, "/definitely/not/here", func(r *FSRequest) {
		got = r.Err
	}))

	require.NoError(t, l.Run(RunDefault))
	require.ErrorIs(t, got, ENOENT)
	require.Equal(t, int64(-1), req.Result)
	require.NoError(t, l.Close())
}

func TestFSRequestReuseWhileInFlight(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	req := &FSRequest{}
	require.NoError(t, FSStat(l, req, "/", func(*FSRequest) {}))
	require.ErrorIs(t, FSStat(l, req, "/", func(*FSRequest) {}), EINVAL,
		"a request is submitted exactly once until it completes")

	require.NoError(t, l.Run(RunDefault))
	require.NoError(t, l.Close())
}
