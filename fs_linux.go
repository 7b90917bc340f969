//go:build linux

package ioloop

import (
	"golang.org/x/sys/unix"
)

// statToRecord normalises the platform stat. Linux has no birth time in
// struct stat; ctime stands in.
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
		Atime:     st.Atim.Nano(),
		Mtime:     st.Mtim.Nano(),
		Ctime:     st.Ctim.Nano(),
		Birthtime: st.Ctim.Nano(),
	}
}

// fdatasync is the real syscall on Linux.
func fdatasync(fd int) error {
	return unix.Fdatasync(fd)
}
