// Package worker implements the poll/claim/execute harness shared by every
// pipeline stage.
//
// A Worker owns one stage. It polls the job repository on a fixed interval,
// claims items while it has free slots, and runs the stage handler for each
// claim in its own goroutine. Handler results are written back through the
// repository: success completes the stage (enqueuing the next one), a
// stage.Defer releases the claim, and any other error fails the attempt with
// the category returned by services.Classify.
//
// Stop drains in-flight work for the configured shutdown timeout and then
// cancels and releases whatever is still running. Lease expiry covers crashes.
package worker
