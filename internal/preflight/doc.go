// Package preflight provides readiness checks for the paths, lock, and
// sockets fsipd needs before it starts.
//
// `fsipd check` runs RunAll and prints one status line per check. Each check
// only observes: directories are not created, the pid file lock is probed
// with a shared lock that is dropped at once, and ports are bound and
// immediately closed.
package preflight
