// Package workflow runs one base worker per pipeline stage.
//
// The Manager owns the worker pools built from a StageSet, starts and stops
// them together, and aggregates worker counters, queue statistics, and stage
// health into a StatusSummary for the API and CLI. Stage ordering and the
// hand-off between stages live in the queue: a stage completion enqueues the
// next stage in the same transaction, so the manager never moves items itself.
package workflow
