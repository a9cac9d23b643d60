// Package api exposes the job repository over HTTP and defines the wire
// types shared by the server, the Go client, and the CLI.
//
// # Key Types
//
// Job: transport representation of a job with stage progress, failure
// category and recovery hints, and the per-stage result sections.
//
// WorkflowStatus: worker pool state, queue counts, and stage health.
//
// JobService: the operations behind every endpoint, usable directly against
// a store when the daemon is not running.
//
// # Routes
//
//	POST /api/jobs                 create a job and queue its upload stage
//	GET  /api/jobs                 list jobs (?status=failed&limit=20)
//	GET  /api/jobs/{id}            describe one job
//	POST /api/jobs/{id}/cancel     cancel a job
//	POST /api/jobs/{id}/retry      requeue a failed or cancelled job
//	POST /api/jobs/{id}/render     queue the render stage for a completed job
//	GET  /api/jobs/{id}/logs       job log lines (?limit=200)
//	GET  /api/jobs/{id}/timeline   assembled timeline
//	GET  /api/status               workflow status
//	GET  /healthz                  liveness
//
// DTOs use snake_case JSON tags. Timestamps use RFC3339 with milliseconds.
package api
