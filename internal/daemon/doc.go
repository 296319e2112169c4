// Package daemon is the lifecycle controller of the fsipd process.
//
// A Controller walks INIT -> LOCKED -> SOCKETS_BOUND -> RUNNING and ends in
// TERMINATED. Acquiring the pid file lock, opening the capture log, and
// binding the endpoints happen in Prepare; any failure there unwinds what was
// already acquired, releasing the lock first. Run records the final pid,
// starts the listener set, and then serves a request queue. Signals and the
// optional rotation watch only enqueue requests; rotation and shutdown both
// execute on the controller goroutine, and rotation is serialized with
// appends by the capture log writer's own lock.
//
// Keep per-connection work in the listener package. This package owns the
// shared state transitions and nothing else.
package daemon
