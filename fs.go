//go:build linux || darwin

package ioloop

import (
	"os"

	"golang.org/x/sys/unix"
)

// StatRecord is the normalised stat result: every field a 64-bit
// integer, timestamps in nanoseconds since the epoch.
type StatRecord struct {
	Dev       int64
	Mode      int64
	Nlink     int64
	UID       int64
	GID       int64
	Rdev      int64
	Ino       int64
	Size      int64
	Blksize   int64
	Blocks    int64
	Atime     int64
	Mtime     int64
	Ctime     int64
	Birthtime int64
}

// DirEntry is one name from a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FSCallback receives a completed filesystem request on the loop thread.
type FSCallback func(req *FSRequest)

// FSRequest carries one filesystem operation through the thread pool.
// With a nil callback the operation instead runs synchronously, inline
// on the calling goroutine, and the submitting function returns its
// result directly.
//
// Results are populated before the callback fires: Result holds the
// primary integer outcome (fd, byte count), Err the failure, and the
// op-specific fields (Stat, Entries, Link) their payloads.
type FSRequest struct {
	wreq WorkRequest

	op string
	cb FSCallback

	Result  int64
	Err     error
	Stat    StatRecord
	Entries []DirEntry
	Link    string
	Path    string
}

// InFlight reports whether an async submission has not yet completed.
func (r *FSRequest) InFlight() bool { return r.wreq.InFlight() }

// Cancel attempts to dequeue an async request whose work has not yet
// started; see [WorkRequest.Cancel]. The callback still fires, with
// req.Err == ECANCELED.
func (r *FSRequest) Cancel() error { return r.wreq.Cancel() }

// fsSubmit runs work inline (cb == nil) or rides the pool.
func fsSubmit(l *Loop, req *FSRequest, op string, cb FSCallback, work func(req *FSRequest)) error {
	if req == nil || req.wreq.InFlight() {
		return EINVAL
	}
	*req = FSRequest{op: op, cb: cb}

	if cb == nil {
		work(req)
		return req.Err
	}

	return QueueWork(l, &req.wreq, func() {
		work(req)
	}, func(err error) {
		if err != nil {
			// Cancelled before the work function ran.
			req.Err = err
		}
		logDebug("pool", l.id, "fs "+req.op+" completed", req.Err, nil)
		cb(req)
	})
}

// fsErr normalizes a syscall failure into req.
func (r *FSRequest) fsErr(err error) {
	if err == nil {
		return
	}
	r.Result = -1
	r.Err = Translate(err)
}

// FSOpen opens path; Result is the new descriptor.
func FSOpen(l *Loop, req *FSRequest, path string, flags int, mode uint32, cb FSCallback) error {
	return fsSubmit(l, req, "open", cb, func(r *FSRequest) {
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC, mode)
		if err != nil {
			r.fsErr(err)
			return
		}
		r.Result = int64(fd)
		r.Path = path
	})
}

// FSClose closes a descriptor obtained from [FSOpen].
func FSClose(l *Loop, req *FSRequest, fd int, cb FSCallback) error {
	return fsSubmit(l, req, "close", cb, func(r *FSRequest) {
		r.fsErr(unix.Close(fd))
	})
}

// FSRead reads into buf at offset (-1 reads at the current position);
// Result is the byte count, 0 at end of file.
func FSRead(l *Loop, req *FSRequest, fd int, buf []byte, offset int64, cb FSCallback) error {
	return fsSubmit(l, req, "read", cb, func(r *FSRequest) {
		var n int
		var err error
		if offset < 0 {
			n, err = unix.Read(fd, buf)
		} else {
			n, err = unix.Pread(fd, buf, offset)
		}
		if err != nil {
			r.fsErr(err)
			return
		}
		r.Result = int64(n)
	})
}

// FSWrite writes buf at offset (-1 writes at the current position);
// Result is the byte count.
func FSWrite(l *Loop, req *FSRequest, fd int, buf []byte, offset int64, cb FSCallback) error {
	return fsSubmit(l, req, "write", cb, func(r *FSRequest) {
		var n int
		var err error
		if offset < 0 {
			n, err = unix.Write(fd, buf)
		} else {
			n, err = unix.Pwrite(fd, buf, offset)
		}
		if err != nil {
			r.fsErr(err)
			return
		}
		r.Result = int64(n)
	})
}

// FSStat stats path into req.Stat.
func FSStat(l *Loop, req *FSRequest, path string, cb FSCallback) error {
	return fsSubmit(l, req, "stat", cb, func(r *FSRequest) {
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			r.fsErr(err)
			return
		}
		r.Stat = statToRecord(&st)
	})
}

// FSFstat stats an open descriptor into req.Stat.
func FSFstat(l *Loop, req *FSRequest, fd int, cb FSCallback) error {
	return fsSubmit(l, req, "fstat", cb, func(r *FSRequest) {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			r.fsErr(err)
			return
		}
		r.Stat = statToRecord(&st)
	})
}

// FSLstat stats path without following a trailing symlink.
func FSLstat(l *Loop, req *FSRequest, path string, cb FSCallback) error {
	return fsSubmit(l, req, "lstat", cb, func(r *FSRequest) {
		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			r.fsErr(err)
			return
		}
		r.Stat = statToRecord(&st)
	})
}

// FSRename renames oldPath to newPath.
func FSRename(l *Loop, req *FSRequest, oldPath, newPath string, cb FSCallback) error {
	return fsSubmit(l, req, "rename", cb, func(r *FSRequest) {
		r.fsErr(unix.Rename(oldPath, newPath))
	})
}

// FSUnlink removes a file.
func FSUnlink(l *Loop, req *FSRequest, path string, cb FSCallback) error {
	return fsSubmit(l, req, "unlink", cb, func(r *FSRequest) {
		r.fsErr(unix.Unlink(path))
	})
}

// FSRmdir removes an empty directory.
func FSRmdir(l *Loop, req *FSRequest, path string, cb FSCallback) error {
	return fsSubmit(l, req, "rmdir", cb, func(r *FSRequest) {
		r.fsErr(unix.Rmdir(path))
	})
}

// FSMkdir creates a directory.
func FSMkdir(l *Loop, req *FSRequest, path string, mode uint32, cb FSCallback) error {
	return fsSubmit(l, req, "mkdir", cb, func(r *FSRequest) {
		r.fsErr(unix.Mkdir(path, mode))
	})
}

// FSMkdirTemp creates a uniquely named directory under dir using
// pattern; req.Path receives the created path.
func FSMkdirTemp(l *Loop, req *FSRequest, dir, pattern string, cb FSCallback) error {
	return fsSubmit(l, req, "mkdtemp", cb, func(r *FSRequest) {
		path, err := os.MkdirTemp(dir, pattern)
		if err != nil {
			r.fsErr(err)
			return
		}
		r.Path = path
	})
}

// FSReadDir lists path into req.Entries, sorted by name.
func FSReadDir(l *Loop, req *FSRequest, path string, cb FSCallback) error {
	return fsSubmit(l, req, "readdir", cb, func(r *FSRequest) {
		ents, err := os.ReadDir(path)
		if err != nil {
			r.fsErr(err)
			return
		}
		r.Entries = make([]DirEntry, len(ents))
		for i, e := range ents {
			r.Entries[i] = DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		}
		r.Result = int64(len(ents))
	})
}

// FSSymlink creates newPath as a symlink to target.
func FSSymlink(l *Loop, req *FSRequest, target, newPath string, cb FSCallback) error {
	return fsSubmit(l, req, "symlink", cb, func(r *FSRequest) {
		r.fsErr(unix.Symlink(target, newPath))
	})
}

// FSReadlink resolves a symlink into req.Link.
func FSReadlink(l *Loop, req *FSRequest, path string, cb FSCallback) error {
	return fsSubmit(l, req, "readlink", cb, func(r *FSRequest) {
		buf := make([]byte, 1024)
		for {
			n, err := unix.Readlink(path, buf)
			if err != nil {
				r.fsErr(err)
				return
			}
			if n < len(buf) {
				r.Link = string(buf[:n])
				return
			}
			buf = make([]byte, len(buf)*2)
		}
	})
}

// FSChmod changes path's mode bits.
func FSChmod(l *Loop, req *FSRequest, path string, mode uint32, cb FSCallback) error {
	return fsSubmit(l, req, "chmod", cb, func(r *FSRequest) {
		r.fsErr(unix.Chmod(path, mode))
	})
}

// FSFchmod changes an open descriptor's mode bits.
func FSFchmod(l *Loop, req *FSRequest, fd int, mode uint32, cb FSCallback) error {
	return fsSubmit(l, req, "fchmod", cb, func(r *FSRequest) {
		r.fsErr(unix.Fchmod(fd, mode))
	})
}

// FSChown changes path's ownership.
func FSChown(l *Loop, req *FSRequest, path string, uid, gid int, cb FSCallback) error {
	return fsSubmit(l, req, "chown", cb, func(r *FSRequest) {
		r.fsErr(unix.Chown(path, uid, gid))
	})
}

// FSFchown changes an open descriptor's ownership.
func FSFchown(l *Loop, req *FSRequest, fd, uid, gid int, cb FSCallback) error {
	return fsSubmit(l, req, "fchown", cb, func(r *FSRequest) {
		r.fsErr(unix.Fchown(fd, uid, gid))
	})
}

// FSUtime sets path's access and modification times (nanoseconds).
func FSUtime(l *Loop, req *FSRequest, path string, atimeNs, mtimeNs int64, cb FSCallback) error {
	return fsSubmit(l, req, "utime", cb, func(r *FSRequest) {
		ts := []unix.Timespec{unix.NsecToTimespec(atimeNs), unix.NsecToTimespec(mtimeNs)}
		r.fsErr(unix.UtimesNano(path, ts))
	})
}

// FSFutime sets an open descriptor's access and modification times.
func FSFutime(l *Loop, req *FSRequest, fd int, atimeNs, mtimeNs int64, cb FSCallback) error {
	return fsSubmit(l, req, "futime", cb, func(r *FSRequest) {
		tv := []unix.Timeval{unix.NsecToTimeval(atimeNs), unix.NsecToTimeval(mtimeNs)}
		r.fsErr(unix.Futimes(fd, tv))
	})
}

// FSFsync flushes data and metadata to stable storage.
func FSFsync(l *Loop, req *FSRequest, fd int, cb FSCallback) error {
	return fsSubmit(l, req, "fsync", cb, func(r *FSRequest) {
		r.fsErr(unix.Fsync(fd))
	})
}

// FSFdatasync flushes data (not necessarily metadata) to stable storage.
func FSFdatasync(l *Loop, req *FSRequest, fd int, cb FSCallback) error {
	return fsSubmit(l, req, "fdatasync", cb, func(r *FSRequest) {
		r.fsErr(fdatasync(fd))
	})
}

// FSFtruncate truncates an open descriptor to size.
func FSFtruncate(l *Loop, req *FSRequest, fd int, size int64, cb FSCallback) error {
	return fsSubmit(l, req, "ftruncate", cb, func(r *FSRequest) {
		r.fsErr(unix.Ftruncate(fd, size))
	})
}

// FSSendfile copies count bytes from inFd (starting at offset) to outFd
// in kernel space where the platform allows; Result is the byte count.
func FSSendfile(l *Loop, req *FSRequest, outFd, inFd int, offset int64, count int, cb FSCallback) error {
	return fsSubmit(l, req, "sendfile", cb, func(r *FSRequest) {
		off := offset
		n, err := unix.Sendfile(outFd, inFd, &off, count)
		if err != nil {
			r.fsErr(err)
			return
		}
		r.Result = int64(n)
	})
}

// FSAccess checks path against mode (unix.R_OK and friends).
func FSAccess(l *Loop, req *FSRequest, path string, mode uint32, cb FSCallback) error {
	return fsSubmit(l, req, "access", cb, func(r *FSRequest) {
		r.fsErr(unix.Access(path, mode))
	})
}

// FSCopyFile copies src to dst (created with mode), overwriting any
// existing file; Result is the byte count copied.
func FSCopyFile(l *Loop, req *FSRequest, src, dst string, mode uint32, cb FSCallback) error {
	return fsSubmit(l, req, "copyfile", cb, func(r *FSRequest) {
		in, err := unix.Open(src, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			r.fsErr(err)
			return
		}
		defer unix.Close(in)
		out, err := unix.Open(dst, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, mode)
		if err != nil {
			r.fsErr(err)
			return
		}
		defer unix.Close(out)

		buf := make([]byte, 128*1024)
		var total int64
		for {
			n, rerr := unix.Read(in, buf)
			if rerr != nil {
				r.fsErr(rerr)
				return
			}
			if n == 0 {
				break
			}
			off := 0
			for off < n {
				w, werr := unix.Write(out, buf[off:n])
				if werr != nil {
					r.fsErr(werr)
					return
				}
				off += w
			}
			total += int64(n)
		}
		r.Result = total
	})
}
