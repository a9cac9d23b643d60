// Package queue is the job repository for the finalcut pipeline.
//
// The Store persists jobs, their per-stage queue items, video chunks, and job
// logs in SQLite (default) or Postgres. Workers compete for queue items through
// ClaimNextJob, a single conditional UPDATE that grants a time-limited lease;
// an expired lease makes the item claimable again, which is the only crash
// recovery mechanism. Completing a stage deletes its item, merges the stage
// result into the job, and enqueues the next stage inside one transaction so
// a job is never left between stages.
//
// Stage payloads are a tagged union keyed by Stage and are decoded with
// DecodePayload at the stage boundary.
//
// Schema changes bump schemaVersion in schema.go; an existing database with a
// different version is rejected with ErrSchemaMismatch.
package queue
