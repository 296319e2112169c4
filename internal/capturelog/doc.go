// Package capturelog is the append-only, rotation-safe capture log writer.
//
// A Writer opens its path with O_APPEND|O_CREATE|O_SYNC, takes an exclusive
// writer lock on it, and records the file's device, inode, and mode. Every
// append is one write of one newline-terminated line under the writer mutex,
// so concurrent listeners never interleave bytes. Reopen swaps in a fresh
// descriptor for the same path under that same mutex, so an append lands
// wholly in the old file or wholly in the new one. A failed reopen leaves the
// writer closed and is reported as fatal; it never degrades into silently
// dropped writes.
package capturelog
