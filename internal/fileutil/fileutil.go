// Package fileutil holds filesystem helpers shared by the pid file guard and
// the capture log writer.
package fileutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Identity is the filesystem identity of an open file: device, inode, and
// mode bits (type and permissions).
type Identity struct {
	Dev  uint64
	Ino  uint64
	Mode uint32
}

// SameFile reports whether both identities name the same inode.
func (i Identity) SameFile(other Identity) bool {
	return i.Dev == other.Dev && i.Ino == other.Ino
}

// Equal reports whether device, inode, and mode all match.
func (i Identity) Equal(other Identity) bool {
	return i.SameFile(other) && i.Mode == other.Mode
}

// Perm returns the permission bits of the recorded mode.
func (i Identity) Perm() os.FileMode {
	return os.FileMode(i.Mode) & os.ModePerm
}

func (i Identity) String() string {
	return fmt.Sprintf("dev=%d ino=%d mode=%#o", i.Dev, i.Ino, i.Mode)
}

// FdIdentity stats an open descriptor.
func FdIdentity(fd int) (Identity, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return Identity{}, &os.PathError{Op: "fstat", Path: fmt.Sprintf("fd %d", fd), Err: err}
	}
	return fromStat(&st), nil
}

// FileIdentity stats an open file.
func FileIdentity(f *os.File) (Identity, error) {
	conn, err := f.SyscallConn()
	if err != nil {
		return Identity{}, err
	}
	var (
		id      Identity
		statErr error
	)
	if err := conn.Control(func(fd uintptr) {
		id, statErr = FdIdentity(int(fd))
	}); err != nil {
		return Identity{}, err
	}
	return id, statErr
}

// PathIdentity stats a path, following symlinks.
func PathIdentity(path string) (Identity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Identity{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return fromStat(&st), nil
}

func fromStat(st *unix.Stat_t) Identity {
	return Identity{
		Dev:  uint64(st.Dev),
		Ino:  uint64(st.Ino),
		Mode: uint32(st.Mode),
	}
}
