// Package config holds the immutable, process-wide settings that are
// established once at startup and shared by reference into the scanner and
// the store. It replaces the mutable global timeout of the original design
// (spec.md §9 "Process-wide timeout") with a value constructed once in main
// and passed down through constructors.
package config

import "time"

// Config carries the socket defaults that apply to every echo socket opened
// for the lifetime of the process.
type Config struct {
	// Threads is the scheduler worker count from the command line; main
	// applies it through runtime.GOMAXPROCS before building the Config.
	// Zero leaves the runtime default.
	Threads int

	// SocketTimeout is applied to both the read and write deadlines of every
	// echo socket created after this Config exists. A zero value leaves
	// sockets with OS defaults (see pingsock.Socket.ApplyTimeout).
	SocketTimeout time.Duration
}

// New returns a Config with the given values. It exists mainly so call
// sites read as documentation at the point a Config is built.
func New(threads int, socketTimeout time.Duration) *Config {
	return &Config{Threads: threads, SocketTimeout: socketTimeout}
}
