// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, queue item IDs, stage names, worker
//     IDs, and correlation identifiers for logging and tracing.
//   - Category markers plus the Wrap helper that tag failures with an error
//     category so the queue can decide between retry and terminal failure
//     without inspecting message text.
//   - The category table (severity, recoverability, recovery actions) surfaced
//     to users on failed jobs.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
