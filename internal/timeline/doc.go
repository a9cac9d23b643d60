// Package timeline turns AI-reported "remove" segments into a keep/remove edit
// decision list.
//
// Assembly runs in fixed steps: validate (drop malformed segments, clamp
// out-of-range ones), merge overlapping removes with a sweep line, invert the
// disjoint remove set into keeps within [0, duration), summarize, and emit
// render instructions. Malformed segments are dropped and reported, never
// fatal. A remove set that covers the whole video is reported through
// ErrNothingToKeep so callers never hand an empty edit to a renderer.
//
// The package also parses the timestamp strings returned by the analysis
// collaborator. Three-part timestamps are ambiguous between HH:MM:SS and
// MM:SS:FF, so callers must name the format explicitly.
package timeline
