// Package ops serves an optional local HTTP surface for inspecting the
// daemon: health, scheduler stats, job listings, schedule and alert
// snapshots, the terminal-job archive, and pprof.
//
// The surface is read-only. It binds to loopback by default and refuses
// a non-loopback bind unless a token is set or insecure mode is allowed
// explicitly.
package ops
