package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"fsipd/internal/fileutil"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1 << 20
)

// TailOptions selects what Tail reads.
type TailOptions struct {
	// Offset is where to resume. Negative starts from the last Limit lines.
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// Identity names the file Offset belongs to. When the path now names a
	// different file, reading restarts at zero.
	Identity fileutil.Identity
}

// TailResult is one batch of complete lines and the position to resume from.
type TailResult struct {
	Lines    []string
	Offset   int64
	Identity fileutil.Identity
	// Rotated is set when the offset was discarded because the file was
	// replaced or truncated.
	Rotated bool
}

// Tail reads complete lines from path. With a negative Offset it returns the
// last Limit lines; otherwise the lines after Offset. When Follow is set and
// nothing new is there, it polls until lines appear, Wait elapses or ctx is
// done. A replaced or truncated file restarts at zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	if opts.Offset < 0 {
		result, err := readLastLines(path, opts.Limit)
		if err != nil || !opts.Follow || len(result.Lines) > 0 {
			return result, err
		}
		opts.Offset = result.Offset
		opts.Identity = result.Identity
	}

	deadline := time.Now().Add(opts.Wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := readForward(path, opts.Offset, opts.Identity)
		if err != nil || len(result.Lines) > 0 || !opts.Follow || !time.Now().Before(deadline) {
			return result, err
		}
		opts.Offset = result.Offset
		opts.Identity = result.Identity

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

func openLog(path string) (*os.File, fileutil.Identity, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fileutil.Identity{}, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fileutil.Identity{}, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fileutil.Identity{}, 0, fmt.Errorf("log path %q is a directory", path)
	}
	id, err := fileutil.FileIdentity(file)
	if err != nil {
		file.Close()
		return nil, fileutil.Identity{}, 0, err
	}
	return file, id, info.Size(), nil
}

func readLastLines(path string, limit int) (TailResult, error) {
	file, id, size, err := openLog(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, err
	}
	defer file.Close()

	result := TailResult{Identity: id}
	if limit <= 0 {
		result.Offset = completeLength(file, size)
		return result, nil
	}
	consumed, err := scanRange(file, 0, size, func(line string) {
		result.Lines = append(result.Lines, line)
		if len(result.Lines) > limit {
			result.Lines = result.Lines[1:]
		}
	})
	result.Offset = consumed
	return result, err
}

func readForward(path string, offset int64, prev fileutil.Identity) (TailResult, error) {
	result := TailResult{Offset: offset, Identity: prev}
	file, id, size, err := openLog(path)
	if errors.Is(err, os.ErrNotExist) {
		// Between a rename and the writer's reopen; keep waiting.
		return result, nil
	}
	if err != nil {
		return result, err
	}
	defer file.Close()

	if (prev != fileutil.Identity{} && !prev.SameFile(id)) || offset > size {
		offset = 0
		result.Rotated = true
	}
	result.Identity = id
	consumed, err := scanRange(file, offset, size, func(line string) {
		result.Lines = append(result.Lines, line)
	})
	result.Offset = offset + consumed
	return result, err
}

// scanRange passes every complete line in file[from:to] to fn and returns
// the number of bytes those lines occupy.
func scanRange(file *os.File, from, to int64, fn func(string)) (int64, error) {
	var consumed int64
	scanner := bufio.NewScanner(io.NewSectionReader(file, from, to-from))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanCompleteLines(&consumed))
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return consumed, fmt.Errorf("read %s: %w", file.Name(), err)
	}
	return consumed, nil
}

// scanCompleteLines splits on '\n' and never yields a trailing fragment, so a
// line still being written is picked up whole on the next read. consumed
// tracks the bytes of the lines returned.
func scanCompleteLines(consumed *int64) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			*consumed += int64(i + 1)
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
}

// completeLength returns the offset just past the last newline in the first
// size bytes of file.
func completeLength(file *os.File, size int64) int64 {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := file.ReadAt(buf[:end-start], start)
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0
		}
		end = start
	}
	return 0
}
