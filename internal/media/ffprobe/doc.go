// Package ffprobe wraps ffprobe's JSON output for source inspection.
//
// Inspect runs the binary; Result exposes the figures the pipeline needs
// (duration, frame rate, dimensions, size). Summarize folds them into a Media
// value and rejects files without a usable video stream.
package ffprobe
