// Package main hosts the fsipd CLI entrypoint and command graph.
//
// `fsipd start` runs the capture daemon, detaching unless told to stay in
// the foreground. `fsipd records` reads a capture log back offline, and the
// config subcommands scaffold and inspect the TOML configuration.
package main
