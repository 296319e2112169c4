package pidfile

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning matches any *AlreadyRunningError.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrIntegrity reports that the pid file on disk is no longer the file
	// this handle locked.
	ErrIntegrity = errors.New("pid file identity mismatch")
	// ErrClosed is returned by operations on a released or closed handle.
	ErrClosed = errors.New("pid file handle closed")
	// ErrInvalidPID is returned by ReadPID for non-numeric contents.
	ErrInvalidPID = errors.New("invalid pid in file")

	errEmpty = errors.New("pid file is empty")
)

// UnknownPID is reported when the holder's pid could not be read in time.
const UnknownPID = -1

// AlreadyRunningError is returned by Acquire when another process holds the
// lock.
type AlreadyRunningError struct {
	Path string
	PID  int
}

func (e *AlreadyRunningError) Error() string {
	if e.PID == UnknownPID {
		return fmt.Sprintf("%s: %s (pid unknown)", e.Path, ErrAlreadyRunning)
	}
	return fmt.Sprintf("%s: %s, pid: %d", e.Path, ErrAlreadyRunning, e.PID)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}
