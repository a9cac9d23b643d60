// Package daemon coordinates the long-running finalcut process.
//
// It ties configuration, the job repository, the workflow manager, the HTTP
// API, and periodic maintenance into a single lifecycle guarded by a flock so
// only one daemon owns a data directory at a time. Stage logic lives in the
// stage packages; the daemon only starts, stops, and reports on them.
package daemon
