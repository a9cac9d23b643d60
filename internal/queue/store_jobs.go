package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries applies when a new job does not set MaxRetries.
const DefaultMaxRetries = 3

// CreateJob inserts a job in the pending state.
func (s *Store) CreateJob(ctx context.Context, spec NewJob) (*Job, error) {
	if strings.TrimSpace(spec.SourcePath) == "" {
		return nil, errors.New("source path is required")
	}
	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	options, err := encodeJSON(spec.Options)
	if err != nil {
		return nil, fmt.Errorf("encode processing options: %w", err)
	}
	now := toMillis(s.now())
	id := uuid.NewString()
	if _, err := s.exec(ctx,
		`INSERT INTO jobs (id, status, priority, processing_options, max_retries, source_path, original_name, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, StatusPending, spec.Priority, options, maxRetries, spec.SourcePath, spec.OriginalName, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), s.rebind("SELECT "+jobColumns+" FROM jobs WHERE id = ?"), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(filter.Statuses)+2)
	if len(filter.Statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(filter.Statuses)) + ")"
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob applies a partial update to a job.
func (s *Store) UpdateJob(ctx context.Context, id string, update JobUpdate) error {
	return s.inTx(ctx, func(tx *txn) error {
		job, err := tx.job(id)
		if err != nil {
			return err
		}
		sets := []string{"updated_at = ?"}
		args := []any{toMillis(s.now())}
		if update.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, *update.Status)
		}
		if update.CurrentStage != nil {
			sets = append(sets, "current_stage = ?")
			args = append(args, *update.CurrentStage)
		}
		if update.ProgressPercentage != nil {
			sets = append(sets, "progress_percentage = ?")
			args = append(args, clampPercent(*update.ProgressPercentage))
		}
		if len(update.StageProgress) > 0 {
			for stage, percent := range update.StageProgress {
				job.StageProgress[stage] = clampPercent(percent)
			}
			encoded, err := encodeJSON(job.StageProgress)
			if err != nil {
				return fmt.Errorf("encode stage progress: %w", err)
			}
			sets = append(sets, "stage_progress = ?")
			args = append(args, encoded)
		}
		if update.LastError != nil {
			sets = append(sets, "last_error = ?")
			args = append(args, *update.LastError)
		}
		if update.ErrorCategory != nil {
			sets = append(sets, "error_category = ?")
			args = append(args, *update.ErrorCategory)
		}
		if update.Result != nil {
			job.Result.Merge(*update.Result)
			encoded, err := encodeJSON(job.Result)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			sets = append(sets, "result_data = ?")
			args = append(args, encoded)
		}
		args = append(args, id)
		if _, err := tx.exec("UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
}

// StartJobStage marks a job as processing the given stage. Failed and
// cancelled jobs are left untouched and reported as ErrInvalidTransition.
func (s *Store) StartJobStage(ctx context.Context, jobID string, stage Stage) error {
	now := toMillis(s.now())
	res, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, current_stage = ?, started_at = COALESCE(started_at, ?), updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		StatusProcessing, stage, now, now, jobID, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("start job stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, job.Status)
	}
	return nil
}

// EnqueueJob creates a queue item for the payload's stage and marks the job queued.
func (s *Store) EnqueueJob(ctx context.Context, jobID string, payload Payload, priority int) (*QueueItem, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrPayloadMismatch)
	}
	var item *QueueItem
	err := s.inTx(ctx, func(tx *txn) error {
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		if job.Status == StatusCancelled {
			return fmt.Errorf("%w: job %s is cancelled", ErrInvalidTransition, jobID)
		}
		item, err = tx.insertItem(job, payload, priority, s.now())
		if err != nil {
			return err
		}
		return tx.markQueued(jobID, payload.Stage(), job.ProgressPercentage)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CancelJob deletes the job's unclaimed queue items and marks it cancelled.
// Handlers already running are not interrupted; their completion is recorded
// without advancing the job.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	return s.inTx(ctx, func(tx *txn) error {
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, jobID, job.Status)
		}
		now := toMillis(s.now())
		var payload string
		err = tx.queryRow(
			`SELECT payload FROM queue_items WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`, jobID,
		).Scan(&payload)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read pending payload: %w", err)
		}
		if _, err := tx.exec(
			`DELETE FROM queue_items WHERE job_id = ? AND (worker_id IS NULL OR claim_expires_at <= ?)`,
			jobID, now,
		); err != nil {
			return fmt.Errorf("delete queue items: %w", err)
		}
		if _, err := tx.exec(
			`UPDATE jobs SET status = ?, retry_payload = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			StatusCancelled, payload, now, now, jobID,
		); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		return nil
	})
}

// RetryJob re-enqueues a failed or cancelled job at its current stage.
func (s *Store) RetryJob(ctx context.Context, jobID string) (*QueueItem, error) {
	var item *QueueItem
	err := s.inTx(ctx, func(tx *txn) error {
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusFailed && job.Status != StatusCancelled {
			return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, job.Status)
		}
		// Leftovers from a worker that died after cancellation hold no live claim.
		if _, err := tx.exec(
			`DELETE FROM queue_items WHERE job_id = ? AND (worker_id IS NULL OR claim_expires_at <= ?)`,
			jobID, toMillis(s.now()),
		); err != nil {
			return fmt.Errorf("delete stale queue items: %w", err)
		}
		var active int
		if err := tx.queryRow(`SELECT COUNT(1) FROM queue_items WHERE job_id = ?`, jobID).Scan(&active); err != nil {
			return fmt.Errorf("count queue items: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("%w: job %s still has work in flight", ErrInvalidTransition, jobID)
		}
		var raw string
		if err := tx.queryRow(`SELECT retry_payload FROM jobs WHERE id = ?`, jobID).Scan(&raw); err != nil {
			return fmt.Errorf("read retry payload: %w", err)
		}
		payload, err := resumePayload(job, raw)
		if err != nil {
			return err
		}
		item, err = tx.insertItem(job, payload, job.Priority, s.now())
		if err != nil {
			return err
		}
		now := toMillis(s.now())
		if _, err := tx.exec(
			`UPDATE jobs SET status = ?, current_stage = ?, last_error = '', error_category = '', retry_payload = '',
             completed_at = NULL, updated_at = ? WHERE id = ?`,
			StatusQueued, payload.Stage(), now, jobID,
		); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RequestRender enqueues the render stage for a completed job whose timeline
// keeps some content.
func (s *Store) RequestRender(ctx context.Context, jobID string, payload RenderPayload) (*QueueItem, error) {
	var item *QueueItem
	err := s.inTx(ctx, func(tx *txn) error {
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusCompleted {
			return fmt.Errorf("%w: job %s is %s, render needs a completed job", ErrInvalidTransition, jobID, job.Status)
		}
		if job.Result.Timeline.Empty() {
			return fmt.Errorf("%w: job %s has no renderable timeline", ErrInvalidTransition, jobID)
		}
		var pending int
		if err := tx.queryRow(`SELECT COUNT(1) FROM queue_items WHERE job_id = ? AND stage = ?`, jobID, StageRenderVideo).Scan(&pending); err != nil {
			return fmt.Errorf("count render items: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("%w: job %s already has a render queued", ErrInvalidTransition, jobID)
		}
		item, err = tx.insertItem(job, payload, job.Priority, s.now())
		if err != nil {
			return err
		}
		return tx.markQueued(jobID, StageRenderVideo, job.ProgressPercentage)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// resumePayload picks the payload a retried job restarts with.
func resumePayload(job *Job, raw string) (Payload, error) {
	if strings.TrimSpace(raw) != "" && job.CurrentStage != "" {
		payload, err := decodeStagePayload(job.CurrentStage, []byte(raw))
		if err == nil {
			return payload, nil
		}
	}
	if job.CurrentStage == "" || job.CurrentStage == StageUpload {
		return UploadPayload{SourcePath: job.SourcePath, OriginalName: job.OriginalName}, nil
	}
	return nil, fmt.Errorf("%w: job %s has no payload to resume %s", ErrInvalidTransition, job.ID, job.CurrentStage)
}

func decodeStagePayload(stage Stage, raw []byte) (Payload, error) {
	item := &QueueItem{Stage: stage, Payload: raw}
	switch stage {
	case StageUpload:
		return DecodePayload[UploadPayload](item)
	case StageSplitChunks:
		return DecodePayload[SplitPayload](item)
	case StageStoreChunks:
		return DecodePayload[StoragePayload](item)
	case StageQueueAnalysis:
		return DecodePayload[QueueAnalysisPayload](item)
	case StageGeminiProcessing:
		return DecodePayload[AnalysisPayload](item)
	case StageAssembleTimeline:
		return DecodePayload[AssemblyPayload](item)
	case StageRenderVideo:
		return DecodePayload[RenderPayload](item)
	default:
		return nil, fmt.Errorf("%w: unknown stage %q", ErrPayloadMismatch, stage)
	}
}

func (t *txn) job(id string) (*Job, error) {
	job, err := scanJob(t.queryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (t *txn) insertItem(job *Job, payload Payload, priority int, now time.Time) (*QueueItem, error) {
	encoded, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	item := &QueueItem{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Stage:         payload.Stage(),
		Priority:      priority,
		MaxAttempts:   max(job.MaxRetries, 0) + 1,
		NextAttemptAt: fromMillis(toMillis(now)),
		Payload:       []byte(encoded),
		CreatedAt:     fromMillis(toMillis(now)),
	}
	if _, err := t.exec(
		`INSERT INTO queue_items (id, job_id, stage, priority, attempts, max_attempts, next_attempt_at, payload, created_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		item.ID, item.JobID, item.Stage, item.Priority, item.MaxAttempts,
		toMillis(item.NextAttemptAt), encoded, toMillis(item.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}
	return item, nil
}

func (t *txn) markQueued(jobID string, stage Stage, progress float64) error {
	if _, err := t.exec(
		`UPDATE jobs SET status = ?, current_stage = ?, progress_percentage = ?, updated_at = ? WHERE id = ?`,
		StatusQueued, stage, progress, toMillis(t.store.now()), jobID,
	); err != nil {
		return fmt.Errorf("mark job queued: %w", err)
	}
	return nil
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
