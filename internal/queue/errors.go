package queue

import "errors"

var (
	// ErrNotFound reports a job or queue item that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClaimLost reports that the caller no longer holds the claim on a queue item.
	ErrClaimLost = errors.New("queue claim lost")
	// ErrInvalidTransition rejects a status change the job's current state does not allow.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrPayloadMismatch reports a payload decoded for the wrong stage.
	ErrPayloadMismatch = errors.New("payload stage mismatch")
	// ErrChunkGap reports chunk indexes that are not a contiguous 0..n-1 sequence.
	ErrChunkGap = errors.New("chunk sequence incomplete")
)
