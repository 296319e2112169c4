package capturelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func openTemp(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.log")
	w, err := Open(context.Background(), path, 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("%s does not end in a newline: %q", path, data)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestOpenRequiresPath(t *testing.T) {
	if w, err := Open(context.Background(), "", 0o644); err == nil {
		_ = w.Close()
		t.Fatal("expected an error for an empty path")
	}
}

func TestAppendTerminatesWithSingleNewline(t *testing.T) {
	w, path := openTemp(t)

	for _, text := range []string{"plain", "one\n", "many\n\n\n", "crlf\r\n", ""} {
		if err := w.Append(text); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}
	want := []string{"plain", "one", "many", "crlf", ""}
	got := readLines(t, path)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	w, path := openTemp(t)

	const writers, perWriter = 16, 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				line := fmt.Sprintf("writer-%02d-line-%03d-%s", id, j, strings.Repeat("x", 200))
				if err := w.Append(line); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	got := readLines(t, path)
	if len(got) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(got), writers*perWriter)
	}
	want := make([]string, 0, writers*perWriter)
	for i := 0; i < writers; i++ {
		for j := 0; j < perWriter; j++ {
			want = append(want, fmt.Sprintf("writer-%02d-line-%03d-%s", i, j, strings.Repeat("x", 200)))
		}
	}
	sort.Strings(got)
	sort.Strings(want)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReopenAfterRenameStartsFreshFile(t *testing.T) {
	w, path := openTemp(t)
	rotated := path + ".1"

	if err := w.Append("before"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before := w.Identity()
	if err := os.Rename(path, rotated); err != nil {
		t.Fatalf("rename: %v", err)
	}
	// Still writing to the renamed file until told to reopen.
	if err := w.Append("still old"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Reopen(context.Background()); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if err := w.Append("after"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got := readLines(t, rotated); strings.Join(got, "|") != "before|still old" {
		t.Fatalf("rotated file = %q", got)
	}
	if got := readLines(t, path); strings.Join(got, "|") != "after" {
		t.Fatalf("new file = %q", got)
	}
	if w.Identity().SameFile(before) {
		t.Fatal("expected a new identity after reopen")
	}
	if err := w.Verify(); err != nil {
		t.Fatalf("Verify after reopen: %v", err)
	}
}

func TestReopenDuringConcurrentAppendsLosesNothing(t *testing.T) {
	w, path := openTemp(t)
	rotated := path + ".1"

	const writers, perWriter = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := w.Append(fmt.Sprintf("w%d-%d", id, j)); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(i)
	}
	time.Sleep(time.Millisecond)
	if err := os.Rename(path, rotated); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := w.Reopen(context.Background()); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	wg.Wait()

	total := len(readLines(t, rotated)) + len(readLines(t, path))
	if total != writers*perWriter {
		t.Fatalf("got %d lines across both files, want %d", total, writers*perWriter)
	}
}

func TestVerifyDetectsModeChange(t *testing.T) {
	w, path := openTemp(t)

	if err := w.Verify(); err != nil {
		t.Fatalf("expected fresh writer to verify: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Chmod(path, info.Mode().Perm()^0o100); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := w.Verify(); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if err := w.AppendVerified("rejected"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected AppendVerified to refuse, got %v", err)
	}
	if got := readLines(t, path); len(got) != 0 {
		t.Fatalf("expected nothing written, got %q", got)
	}
}

func TestClosedWriterIsNoOp(t *testing.T) {
	w, path := openTemp(t)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if w.IsOpen() {
		t.Fatal("expected writer closed")
	}
	if err := w.Append("dropped"); err != nil {
		t.Fatalf("Append on closed writer: %v", err)
	}
	if err := w.Verify(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.Reopen(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected Reopen on closed writer to fail, got %v", err)
	}
	if got := readLines(t, path); len(got) != 0 {
		t.Fatalf("expected empty file, got %q", got)
	}
}

func TestReopenFailureLeavesWriterClosed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	w, err := Open(context.Background(), filepath.Join(dir, "capture.log"), 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	err = w.Reopen(context.Background())
	if !errors.Is(err, ErrReopen) {
		t.Fatalf("expected ErrReopen, got %v", err)
	}
	if w.IsOpen() {
		t.Fatal("expected writer to stay closed after failed reopen")
	}
	if err := w.AppendVerified("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSecondWriterIsLockedOut(t *testing.T) {
	_, path := openTemp(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	other, err := Open(ctx, path, 0o644)
	if err == nil {
		_ = other.Close()
		t.Fatal("expected second writer to be refused")
	}
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestAppendBoundsMessageSize(t *testing.T) {
	w, path := openTemp(t)
	if err := w.Append(strings.Repeat("a", MaxMessageSize+10)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got := readLines(t, path)
	if len(got) != 1 || len(got[0]) != MaxMessageSize {
		t.Fatalf("expected one line of %d bytes", MaxMessageSize)
	}
}

func TestOpenCreatesWithMode(t *testing.T) {
	old := umask(0)
	defer umask(old)

	path := filepath.Join(t.TempDir(), "mode.log")
	w, err := Open(context.Background(), path, 0o640)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode = %o, want 640", info.Mode().Perm())
	}
	if w.Identity().Perm() != 0o640 {
		t.Fatalf("recorded mode = %o, want 640", w.Identity().Perm())
	}
}

func umask(mask int) int {
	return unix.Umask(mask)
}
