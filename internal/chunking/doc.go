// Package chunking implements the split_chunks and store_chunks stages.
//
// split_chunks plans fixed-length time slices over the probed source, cuts
// them with ffmpeg into the job's work directory, and records each slice as a
// chunk row. store_chunks verifies the sequence is gap-free and uploads every
// chunk to object storage. Both stages skip work a previous attempt already
// finished, so a released or retried item resumes rather than restarts.
package chunking
