// Package config loads, normalizes, and validates fsipd configuration data.
//
// It supplies repository defaults, derives the pid file and capture log
// locations from the program name when they are not set, expands user paths
// (including tilde shortcuts), and reads TOML files. The Config type
// centralizes every knob the daemon and CLI need: the listening port and the
// protocol/family matrix, capture log placement and permissions, the
// instance lock, and diagnostic logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, parsed file modes, and clear validation errors.
package config
