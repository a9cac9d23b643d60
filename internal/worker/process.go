package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/stage"
)

func (w *Worker) process(ctx context.Context, item *queue.QueueItem) {
	ctx = services.WithJobID(ctx, item.JobID)
	ctx = services.WithQueueID(ctx, item.ID)
	ctx = services.WithStage(ctx, string(item.Stage))
	ctx = services.WithWorkerID(ctx, w.cfg.WorkerID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.TeeLogger(
		logging.WithContext(ctx, w.logger),
		newJobLogHandler(w.repo, item.JobID, item.Stage),
	)

	started := time.Now()
	job, err := w.repo.GetJob(ctx, item.JobID)
	if err != nil {
		w.fail(ctx, logger, item, nil, services.Wrap(services.ErrSystem, string(item.Stage), "load job", "", err))
		return
	}
	if err := w.repo.StartJobStage(ctx, job.ID, item.Stage); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			err = services.Wrap(services.ErrSystem, string(item.Stage), "start stage", "job cannot run", err)
		}
		w.fail(ctx, logger, item, job, err)
		return
	}
	w.trackStart(job.ID, item.Stage)
	w.publish(ctx, events.Event{Type: events.StageStarted, JobID: job.ID, Stage: string(item.Stage), Progress: job.ProgressPercentage})
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", item.Attempts+1),
		logging.Int("max_attempts", item.MaxAttempts),
		logging.String("source_file", strings.TrimSpace(job.SourcePath)),
	)

	req := &stage.Request{
		Job:      job,
		Item:     item,
		Progress: w.reporter(ctx, logger, job.ID, item.Stage),
		Step:     w.stepReporter(job.ID, item.Stage),
	}
	outcome, err := w.run(ctx, req)
	if err != nil {
		if ctx.Err() != nil && w.isStopping() {
			logger.Debug("stage interrupted by shutdown", logging.Error(err))
			return
		}
		if deferred, ok := stage.AsDefer(err); ok {
			w.release(ctx, logger, item, deferred)
			return
		}
		w.fail(ctx, logger, item, job, err)
		return
	}
	w.complete(ctx, logger, item, job, outcome, time.Since(started))
}

func (w *Worker) run(ctx context.Context, req *stage.Request) (stage.Outcome, error) {
	if err := w.handler.Prepare(ctx, req); err != nil {
		return stage.Outcome{}, err
	}
	return w.handler.Execute(ctx, req)
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, item *queue.QueueItem, job *queue.Job, outcome stage.Outcome, elapsed time.Duration) {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := w.repo.CompleteJobStage(fctx, item.ID, w.cfg.WorkerID, outcome.Result, outcome.Next); err != nil {
		w.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record stage completion", "stage_complete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, claimHint(err)),
		)
		return
	}
	w.count(func(s *Stats) { s.JobsProcessed++ })

	next := ""
	if outcome.Next != nil {
		next = string(outcome.Next.Stage())
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_stage", next),
		logging.Duration("stage_duration", elapsed),
	)
	pct := item.Stage.CompletionPercent()
	w.publish(fctx, events.Event{Type: events.StageCompleted, JobID: job.ID, Stage: string(item.Stage), Progress: pct})
	w.trackComplete(job.ID, item.Stage, outcome.Next == nil)
	if outcome.Next == nil {
		w.publish(fctx, events.Event{
			Type:     events.JobCompleted,
			JobID:    job.ID,
			Stage:    string(item.Stage),
			Message:  completionMessage(job, outcome.Result),
			Progress: 100,
		})
	}
}

func (w *Worker) release(ctx context.Context, logger *slog.Logger, item *queue.QueueItem, deferred *stage.DeferError) {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := w.repo.ReleaseJobClaim(fctx, item.ID, w.cfg.WorkerID, deferred.Delay); err != nil {
		w.setLastError(err)
		logging.ErrorWithContext(logger, "failed to release deferred claim", "claim_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, claimHint(err)),
		)
		return
	}
	w.count(func(s *Stats) { s.JobsReleased++ })
	logger.Info("stage deferred",
		logging.String(logging.FieldEventType, "stage_deferred"),
		logging.Duration("delay", deferred.Delay),
		logging.String("reason", deferred.Reason),
	)
	w.publish(fctx, events.Event{Type: events.StageDeferred, JobID: item.JobID, Stage: string(item.Stage), Message: deferred.Reason})
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, item *queue.QueueItem, job *queue.Job, stageErr error) {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	w.setLastError(stageErr)
	category := services.Classify(stageErr)
	failure := queue.Failure{Message: failureMessage(item.Stage, stageErr), Category: category}
	outcome, err := w.repo.FailJobStage(fctx, item.ID, w.cfg.WorkerID, failure, w.cfg.retryPolicy())
	if err != nil {
		logging.ErrorWithContext(logger, "failed to record stage failure", "stage_fail_record_failed",
			logging.Error(err),
			logging.String("stage_error", failure.Message),
			logging.String(logging.FieldErrorHint, claimHint(err)),
		)
		return
	}
	w.count(func(s *Stats) { s.JobsFailed++ })

	attrs := []logging.Attr{
		logging.Error(stageErr),
		logging.String(logging.FieldErrorCategory, string(category)),
		logging.Int("attempt", outcome.Attempts),
		logging.Int("max_attempts", outcome.MaxAttempts),
		logging.String("job_status", string(outcome.JobStatus)),
	}
	var progress float64
	if job != nil {
		progress = job.ProgressPercentage
	}
	w.publish(fctx, events.Event{
		Type:     events.StageFailed,
		JobID:    item.JobID,
		Stage:    string(item.Stage),
		Message:  failure.Message,
		Category: string(category),
		Progress: progress,
		Retrying: outcome.Retrying,
	})
	if outcome.Retrying {
		attrs = append(attrs,
			logging.String("next_attempt_at", outcome.NextAttemptAt.Format(time.RFC3339)),
			logging.String(logging.FieldErrorHint, "attempt will be retried automatically"),
		)
		logging.WarnWithContext(logger, "stage failed; retry scheduled", "stage_retry", attrs...)
		w.trackFail(item.JobID, item.Stage, failure.Message, false)
		return
	}

	hint := "inspect the job logs and retry the job"
	if actions := category.RecoveryActions(); len(actions) > 0 {
		hint = strings.Join(actions, "; ")
	}
	attrs = append(attrs, logging.Alert("stage_failure"), logging.String(logging.FieldErrorHint, hint))
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
	w.trackFail(item.JobID, item.Stage, failure.Message, true)
	if outcome.JobStatus == queue.StatusFailed {
		w.publish(fctx, events.Event{
			Type:     events.JobFailed,
			JobID:    item.JobID,
			Stage:    string(item.Stage),
			Message:  failure.Message,
			Category: string(category),
			Progress: progress,
		})
	}
}

// reporter maps handler progress (0-100 within the stage) onto the job's
// overall percentage and persists it at 5% granularity.
func (w *Worker) reporter(ctx context.Context, logger *slog.Logger, jobID string, st queue.Stage) stage.ProgressFunc {
	base := 0.0
	if prev, ok := st.Previous(); ok {
		base = prev.CompletionPercent()
	}
	span := st.CompletionPercent() - base
	if span < 0 {
		span = 0
	}
	gate := newProgressGate(5)
	return func(percent float64, message string) {
		percent = min(max(percent, 0), 100)
		if w.tracker != nil {
			_ = w.tracker.UpdateStageProgress(jobID, string(st), percent, message)
		}
		if !gate.admit(percent) {
			return
		}
		overall := base + span*percent/100
		update := queue.JobUpdate{
			ProgressPercentage: &overall,
			StageProgress:      map[queue.Stage]float64{st: percent},
		}
		if err := w.repo.UpdateJob(ctx, jobID, update); err != nil && ctx.Err() == nil {
			logger.Warn("failed to persist progress",
				logging.Error(err),
				logging.String(logging.FieldEventType, "progress_persist_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		logger.Debug("stage progress",
			logging.String(logging.FieldEventType, "stage_progress"),
			logging.Float64("stage_percent", percent),
			logging.Float64("job_percent", overall),
			logging.String("progress_message", message),
		)
	}
}

func (w *Worker) publish(ctx context.Context, event events.Event) {
	// Bus logs its own transport failures.
	_ = w.publisher.Publish(ctx, event)
}

func trackedStages(st queue.Stage) []string {
	if st == queue.StageRenderVideo {
		return []string{string(queue.StageRenderVideo)}
	}
	var names []string
	for _, s := range queue.Stages() {
		if s != queue.StageRenderVideo {
			names = append(names, string(s))
		}
	}
	return names
}

func (w *Worker) trackStart(jobID string, st queue.Stage) {
	if w.tracker == nil {
		return
	}
	stages := trackedStages(st)
	if w.tracker.Ensure(jobID, stages) {
		// Stages that ran before this process started tracking the job.
		for _, name := range stages {
			if name == string(st) {
				break
			}
			_ = w.tracker.SkipStage(jobID, name, "completed earlier")
		}
	}
	_ = w.tracker.StartStage(jobID, string(st))
}

func (w *Worker) stepReporter(jobID string, st queue.Stage) stage.StepFunc {
	if w.tracker == nil {
		return nil
	}
	return func(name string, percent float64, message string) {
		_ = w.tracker.UpdateSubStage(jobID, string(st), name, percent, message)
	}
}

func (w *Worker) trackComplete(jobID string, st queue.Stage, final bool) {
	if w.tracker == nil {
		return
	}
	_ = w.tracker.CompleteStage(jobID, string(st))
	if final {
		w.tracker.Remove(jobID)
	}
}

func (w *Worker) trackFail(jobID string, st queue.Stage, message string, terminal bool) {
	if w.tracker == nil {
		return
	}
	_ = w.tracker.FailStage(jobID, string(st), message)
	if terminal {
		w.tracker.Remove(jobID)
	}
}

func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func failureMessage(st queue.Stage, err error) string {
	if err == nil {
		return fmt.Sprintf("%s failed without error detail", st)
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s failed", st)
}

func completionMessage(job *queue.Job, result queue.JobResult) string {
	switch {
	case result.Render != nil && result.Render.OutputURL != "":
		return "Rendered: " + result.Render.OutputURL
	case result.Timeline != nil:
		s := result.Timeline.Summary
		return fmt.Sprintf("%s: %.1fs -> %.1fs (%.2f%% removed)", job.OriginalName, s.OriginalDuration, s.FinalDuration, s.ReductionPercentage)
	default:
		return job.OriginalName
	}
}

func claimHint(err error) string {
	if errors.Is(err, queue.ErrClaimLost) {
		return "the claim lease expired before the stage finished; raise lease_minutes for this stage"
	}
	return "check queue database access"
}
