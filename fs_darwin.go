//go:build darwin

package ioloop

import (
	"golang.org/x/sys/unix"
)

// statToRecord normalises the platform stat. Darwin carries a true birth
// time.
func statToRecord(st *unix.Stat_t) StatRecord {
	return StatRecord{
		Dev:       int64(st.Dev),
		Mode:      int64(st.Mode),
		Nlink:     int64(st.Nlink),
		UID:       int64(st.Uid),
		GID:       int64(st.Gid),
		Rdev:      int64(st.Rdev),
		Ino:       int64(st.Ino),
		Size:      st.Size,
		Blksize:   int64(st.Blksize),
		Blocks:    st.Blocks,
		Atime:     st.Atimespec.Nano(),
		Mtime:     st.Mtimespec.Nano(),
		Ctime:     st.Ctimespec.Nano(),
		Birthtime: st.Birthtimespec.Nano(),
	}
}

// fdatasync falls back to fsync; Darwin has no fdatasync(2).
func fdatasync(fd int) error {
	return unix.Fsync(fd)
}
