package pidfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"fsipd/internal/fileutil"
)

const (
	// The holder may be between truncate and write; give it a moment.
	readAttempts = 20
	readInterval = 5 * time.Millisecond

	maxPIDBytes = 15
)

// Handle is a held pid file lock. The zero value is not usable; obtain one
// from Acquire or Inherit.
type Handle struct {
	mu   sync.Mutex
	file *os.File
	path string
	id   fileutil.Identity
}

// Acquire opens and locks the pid file at path, truncates it, and records
// the calling process id.
func Acquire(path string, mode os.FileMode) (*Handle, error) {
	if path == "" {
		return nil, errors.New("pid file path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve pid file path: %w", err)
	}

	fd, err := flopen(abs, unix.O_WRONLY|unix.O_CREAT|unix.O_CLOEXEC|unix.O_NONBLOCK, mode)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, &AlreadyRunningError{Path: abs, PID: readHolderPID(abs)}
		}
		return nil, err
	}

	id, err := fileutil.FdIdentity(fd)
	if err != nil {
		_ = unix.Unlink(abs)
		_ = unix.Close(fd)
		return nil, err
	}

	h := &Handle{
		file: os.NewFile(uintptr(fd), abs),
		path: abs,
		id:   id,
	}
	if err := h.Write(); err != nil {
		return nil, err
	}
	return h, nil
}

// Inherit rebuilds a handle from a descriptor passed down by a parent process
// that acquired the lock. The descriptor must still refer to the file at path
// and must still hold the lock.
func Inherit(f *os.File, path string) (*Handle, error) {
	if f == nil {
		return nil, ErrClosed
	}
	id, err := fileutil.FileIdentity(f)
	if err != nil {
		return nil, err
	}
	onDisk, err := fileutil.PathIdentity(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if !id.SameFile(onDisk) {
		return nil, fmt.Errorf("%w: inherited descriptor %s, path %s", ErrIntegrity, id, onDisk)
	}
	conn, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var lockErr error
	if err := conn.Control(func(fd uintptr) {
		lockErr = unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
	}); err != nil {
		return nil, err
	}
	if lockErr != nil {
		return nil, &os.PathError{Op: "flock", Path: path, Err: lockErr}
	}
	return &Handle{file: f, path: path, id: id}, nil
}

// Path returns the absolute pid file path.
func (h *Handle) Path() string {
	return h.path
}

// Identity returns the device and inode recorded when the lock was taken.
func (h *Handle) Identity() fileutil.Identity {
	return h.id
}

// File exposes the locked descriptor so it can be handed to a child process.
func (h *Handle) File() *os.File {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file
}

// Verify checks that both the held descriptor and the file currently at the
// path are the inode that was locked.
func (h *Handle) Verify() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifyLocked()
}

func (h *Handle) verifyLocked() error {
	if err := h.verifyDescriptorLocked(); err != nil {
		return err
	}
	onDisk, err := fileutil.PathIdentity(h.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if !onDisk.SameFile(h.id) {
		return fmt.Errorf("%w: %s now %s, locked %s", ErrIntegrity, h.path, onDisk, h.id)
	}
	return nil
}

func (h *Handle) verifyDescriptorLocked() error {
	if h.file == nil {
		return ErrClosed
	}
	held, err := fileutil.FileIdentity(h.file)
	if err != nil {
		return err
	}
	if !held.SameFile(h.id) {
		return fmt.Errorf("%w: descriptor now %s, locked %s", ErrIntegrity, held, h.id)
	}
	return nil
}

// Write truncates the pid file and stores the calling process id. It may be
// called again after the process id changes. A failed write removes the pid
// file and releases the lock.
func (h *Handle) Write() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Never close on a failed check: the descriptor may not be ours.
	if err := h.verifyLocked(); err != nil {
		return err
	}

	pid := []byte(strconv.Itoa(os.Getpid()))
	if err := h.file.Truncate(0); err != nil {
		_ = h.removeLocked()
		return fmt.Errorf("truncate pid file: %w", err)
	}
	n, err := h.file.WriteAt(pid, 0)
	if err == nil && n != len(pid) {
		err = io.ErrShortWrite
	}
	if err != nil {
		_ = h.removeLocked()
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the pid file and closes the descriptor, which drops the
// lock. If the file on disk is no longer ours nothing is touched and an
// ErrIntegrity error is returned.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.verifyLocked(); err != nil {
		return err
	}
	return h.removeLocked()
}

// Close drops the lock without removing the pid file. A parent that hands the
// descriptor to a detached child closes its own copy this way; the lock stays
// held through the child's copy. Only the descriptor is checked since the
// path is not touched.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.verifyDescriptorLocked(); err != nil {
		return err
	}
	err := h.file.Close()
	h.file = nil
	return err
}

func (h *Handle) removeLocked() error {
	var firstErr error
	if err := os.Remove(h.path); err != nil {
		firstErr = err
	}
	if err := h.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	h.file = nil
	return firstErr
}

// ReadPID parses the pid stored at path. An empty file reports errEmpty so
// callers can wait for a writer that is mid-update.
func ReadPID(path string) (int, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, maxPIDBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, err
	}
	content := bytes.TrimSpace(buf[:n])
	if len(content) == 0 {
		return 0, errEmpty
	}
	pid, err := strconv.Atoi(string(content))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, content)
	}
	return pid, nil
}

func readHolderPID(path string) int {
	for attempt := 1; ; attempt++ {
		pid, err := ReadPID(path)
		if err == nil {
			return pid
		}
		if !errors.Is(err, errEmpty) || attempt == readAttempts {
			return UnknownPID
		}
		time.Sleep(readInterval)
	}
}

// flopen opens path and takes an exclusive flock on it. If the path was
// unlinked or replaced between open and lock the open is retried, so the
// returned descriptor always refers to the file currently at path. The file
// is truncated only once the lock is held.
func flopen(path string, flags int, mode os.FileMode) (int, error) {
	for {
		fd, err := unix.Open(path, flags, uint32(mode.Perm()))
		if err != nil {
			return -1, &os.PathError{Op: "open", Path: path, Err: err}
		}
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = unix.Close(fd)
			return -1, &os.PathError{Op: "flock", Path: path, Err: err}
		}
		onDisk, err := fileutil.PathIdentity(path)
		if err != nil {
			_ = unix.Close(fd)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return -1, err
		}
		held, err := fileutil.FdIdentity(fd)
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		if !held.SameFile(onDisk) {
			_ = unix.Close(fd)
			continue
		}
		if err := unix.Ftruncate(fd, 0); err != nil {
			_ = unix.Close(fd)
			return -1, &os.PathError{Op: "truncate", Path: path, Err: err}
		}
		return fd, nil
	}
}
