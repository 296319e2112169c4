// Package logs tails the capture log for `fsipd records --follow`.
//
// Reads stop at the last complete line so a record is never split, and a
// follow that notices the path now names a different or shorter file starts
// over at the beginning of the new one. Callers poll with a context deadline
// so follow mode stops cleanly when the CLI exits.
package logs
