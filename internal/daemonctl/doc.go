// Package daemonctl detaches the daemon from its controlling session.
//
// Go cannot fork a running process, so detaching re-executes the same binary
// in a new session with the already-locked pid file and the already-bound
// sockets passed down as inherited descriptors. The child picks them up with
// Inherited and carries on from the point the parent reached, so the lock
// is never released between the two processes and the ports are never
// unbound.
package daemonctl
