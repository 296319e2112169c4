// Package logging assembles the structured slog loggers fsipd uses for its own
// diagnostics.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes attribute helpers and field keys so the pid file guard, capture
// log writer, listeners, and lifecycle controller emit events with the same
// shape. It also prunes old per-run diagnostic logs. Captured traffic is never
// written through this package; that is the capture log's job.
package logging
