package stage

import (
	"context"

	"finalcut/internal/queue"
)

// Handler describes the contract the base worker needs from each stage.
type Handler interface {
	Stage() queue.Stage
	Prepare(context.Context, *Request) error
	Execute(context.Context, *Request) (Outcome, error)
	HealthCheck(context.Context) Health
}

// ProgressFunc reports progress within the running stage (0-100).
type ProgressFunc func(percent float64, message string)

// StepFunc reports progress of a named step inside the running stage.
type StepFunc func(name string, percent float64, message string)

// Request is one claimed queue item handed to a handler.
type Request struct {
	Job      *queue.Job
	Item     *queue.QueueItem
	Progress ProgressFunc
	Step     StepFunc
}

// Report forwards progress when a reporter is attached.
func (r *Request) Report(percent float64, message string) {
	if r != nil && r.Progress != nil {
		r.Progress(percent, message)
	}
}

// ReportStep forwards step progress when a reporter is attached.
func (r *Request) ReportStep(name string, percent float64, message string) {
	if r != nil && r.Step != nil {
		r.Step(name, percent, message)
	}
}

// Outcome is what a successful Execute hands back to the repository: the
// result section to merge and the next stage's payload, or nil when the job
// is finished.
type Outcome struct {
	Result queue.JobResult
	Next   queue.Payload
}
