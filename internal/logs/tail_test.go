package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsipd/internal/logs"
)

func appendText(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsipd.log")
	appendText(t, path, "a\nb\nc\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("offset = %d, want 6", result.Offset)
	}
}

func TestTailHoldsBackPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsipd.log")
	appendText(t, path, "one\ntw")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "one" || result.Offset != 4 {
		t.Fatalf("unexpected result: %+v", result)
	}

	appendText(t, path, "o\n")
	next, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: result.Offset, Identity: result.Identity})
	if err != nil {
		t.Fatalf("tail from offset: %v", err)
	}
	if len(next.Lines) != 1 || next.Lines[0] != "two" || next.Offset != 8 {
		t.Fatalf("unexpected result: %+v", next)
	}

	none, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 0})
	if err != nil || none.Offset != 8 || len(none.Lines) != 0 {
		t.Fatalf("limit 0 should only report the end offset: %+v, %v", none, err)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsipd.log")
	appendText(t, path, "start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}

	done := make(chan logs.TailResult, 1)
	go func() {
		res, err := logs.Tail(ctx, path, logs.TailOptions{
			Offset:   result.Offset,
			Identity: result.Identity,
			Follow:   true,
			Wait:     5 * time.Second,
		})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	appendText(t, path, "later\n")

	select {
	case res := <-done:
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Fatalf("unexpected follow lines: %#v", res.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestTailRestartsAfterRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsipd.log")
	appendText(t, path, "old-1\nold-2\n")

	first, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	missing, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: first.Offset, Identity: first.Identity})
	if err != nil || len(missing.Lines) != 0 || missing.Offset != first.Offset {
		t.Fatalf("missing file should keep the offset: %+v, %v", missing, err)
	}

	appendText(t, path, "new\n")
	next, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: first.Offset, Identity: first.Identity})
	if err != nil {
		t.Fatalf("tail after rotation: %v", err)
	}
	if !next.Rotated || len(next.Lines) != 1 || next.Lines[0] != "new" {
		t.Fatalf("unexpected result after rotation: %+v", next)
	}
}

func TestTailRestartsAfterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsipd.log")
	appendText(t, path, "aaaa\nbbbb\n")
	first, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	appendText(t, path, "c\n")

	next, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: first.Offset, Identity: first.Identity})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if !next.Rotated || len(next.Lines) != 1 || next.Lines[0] != "c" {
		t.Fatalf("unexpected result after truncate: %+v", next)
	}
}

func TestTailDirectoryRejected(t *testing.T) {
	if _, err := logs.Tail(context.Background(), t.TempDir(), logs.TailOptions{Offset: -1, Limit: 1}); err == nil {
		t.Fatal("expected error for directory")
	}
}
