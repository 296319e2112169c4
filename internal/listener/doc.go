// Package listener binds the capture endpoints and runs one receive loop per
// endpoint.
//
// Bind opens a socket for every enabled protocol and family combination the
// host supports. IPv6 sockets are IPv6-only so the two families never share
// a socket. TCP loops accept a connection, read at most one bounded line,
// hand a record to the sink, and close. UDP loops hand every non-empty
// datagram to the sink. Failures of a single connection or datagram stay
// inside that iteration.
package listener
