// Package flashkit dispatches flash and debug commands to interchangeable
// probe-tool backends.
package flashkit

// Version is the flashkit release, overridden at link time.
var Version = "v0.1.0-dev"
