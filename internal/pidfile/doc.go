// Package pidfile implements the exclusive-instance guard: a pid file opened
// and locked (flock LOCK_EX|LOCK_NB) in one step, whose filesystem identity is
// remembered so later writes and the final removal can prove they still act
// on the file this process locked.
//
// A second acquisition while the lock is held fails with an
// *AlreadyRunningError carrying the holder's pid (or UnknownPID when the
// holder has not written it yet). A pid file left behind by a dead process
// is stale: nobody holds its lock, so acquisition succeeds and overwrites it.
package pidfile
