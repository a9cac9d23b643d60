// Command finalcut is the CLI and daemon entry point for the finalcut video
// pipeline.
//
// Job commands talk to a running daemon over its HTTP API and fall back to the
// job database when no daemon answers, so jobs can be queued and inspected
// while the daemon is down.
package main
