package capturelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"fsipd/internal/fileutil"
)

const (
	// MaxMessageSize bounds a single appended message.
	MaxMessageSize = 64 * 1024

	lockRetryDelay = 25 * time.Millisecond
)

var (
	// ErrIntegrity reports that the descriptor no longer matches the device,
	// inode, and mode recorded at open.
	ErrIntegrity = errors.New("capture log identity mismatch")
	// ErrClosed is returned by checks against a closed writer.
	ErrClosed = errors.New("capture log closed")
	// ErrReopen wraps the cause of a failed rotation; the writer is closed.
	ErrReopen = errors.New("capture log reopen failed")
	// ErrLocked reports that another writer holds the capture log lock.
	ErrLocked = errors.New("capture log locked by another writer")
)

// Writer appends lines to the capture log. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	mode os.FileMode
	file *os.File
	lock *flock.Flock
	id   fileutil.Identity
}

// Open creates or opens path for synchronous appends and takes the writer
// lock. ctx bounds the wait for a lock held by another writer.
func Open(ctx context.Context, path string, mode os.FileMode) (*Writer, error) {
	if path == "" {
		return nil, errors.New("capture log path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve capture log path: %w", err)
	}
	w := &Writer{path: abs, mode: mode.Perm()}
	if err := w.openLocked(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openLocked(ctx context.Context) error {
	for {
		file, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_SYNC, w.mode)
		if err != nil {
			return fmt.Errorf("open capture log: %w", err)
		}

		lock := flock.New(w.path)
		locked, err := lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil || !locked {
			_ = file.Close()
			if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return fmt.Errorf("%w: %s", ErrLocked, w.path)
			}
			return fmt.Errorf("lock capture log: %w", err)
		}

		held, err := fileutil.FileIdentity(file)
		if err != nil {
			_ = lock.Unlock()
			_ = file.Close()
			return err
		}
		onDisk, err := fileutil.PathIdentity(w.path)
		if err == nil && !onDisk.SameFile(held) {
			// Rotated between our open and the lock; start over on the new file.
			_ = lock.Unlock()
			_ = file.Close()
			continue
		}
		if err != nil {
			_ = lock.Unlock()
			_ = file.Close()
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		w.file = file
		w.lock = lock
		w.id = held
		return nil
	}
}

func (w *Writer) closeLocked() error {
	if w.file == nil {
		return nil
	}
	var firstErr error
	if err := w.lock.Unlock(); err != nil {
		firstErr = err
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.file = nil
	w.lock = nil
	return firstErr
}

// Path returns the absolute capture log path.
func (w *Writer) Path() string {
	return w.path
}

// Mode returns the permission bits used when creating the file.
func (w *Writer) Mode() os.FileMode {
	return w.mode
}

// Identity returns the identity recorded at the most recent open.
func (w *Writer) Identity() fileutil.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// IsOpen reports whether the writer currently holds a descriptor.
func (w *Writer) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file != nil
}

// Append writes text followed by exactly one newline. Trailing newlines in
// text are collapsed. Appending to a closed writer is a no-op.
func (w *Writer) Append(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(text)
}

// AppendVerified checks the descriptor's identity and appends in the same
// critical section, so a concurrent Reopen cannot slip in between.
func (w *Writer) AppendVerified(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.verifyLocked(); err != nil {
		return err
	}
	return w.appendLocked(text)
}

func (w *Writer) appendLocked(text string) error {
	if w.file == nil {
		return nil
	}
	msg := strings.TrimRight(text, "\r\n")
	if len(msg) > MaxMessageSize {
		msg = msg[:MaxMessageSize]
	}
	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	line = append(line, '\n')
	n, err := w.file.Write(line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("append capture log: %w", err)
	}
	return nil
}

// Verify re-stats the descriptor and compares device, inode, and mode with
// the values recorded at open.
func (w *Writer) Verify() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.verifyLocked()
}

func (w *Writer) verifyLocked() error {
	if w.file == nil {
		return ErrClosed
	}
	current, err := fileutil.FileIdentity(w.file)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if !current.Equal(w.id) {
		return fmt.Errorf("%w: now %s, opened %s", ErrIntegrity, current, w.id)
	}
	return nil
}

// Reopen closes the current descriptor and opens the same path again, for
// use after external rotation renamed the file. Appends are held off for the
// duration. If the open fails the writer stays closed and the returned
// error wraps ErrReopen.
func (w *Writer) Reopen(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("%w: %w", ErrReopen, ErrClosed)
	}
	if err := w.closeLocked(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrReopen, err)
	}
	if err := w.openLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrReopen, err)
	}
	return nil
}

// Close releases the writer lock and the descriptor. Closing twice is safe.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}
