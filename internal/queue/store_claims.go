package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finalcut/internal/config"
)

const claimQuery = `UPDATE queue_items
    SET worker_id = ?, claimed_at = ?, claim_expires_at = ?
    WHERE id = (
        SELECT q.id FROM queue_items q JOIN jobs j ON j.id = q.job_id
        WHERE q.stage = ? AND q.next_attempt_at <= ?
          AND (q.worker_id IS NULL OR q.claim_expires_at <= ?)
          AND j.status <> ?
        ORDER BY q.priority DESC, q.next_attempt_at, q.created_at
        LIMIT 1%s
    )
    AND (worker_id IS NULL OR claim_expires_at <= ?)
    RETURNING ` + itemColumns

// ClaimNextJob atomically claims the highest priority claimable item for
// stage. An item is claimable when it is due and either unclaimed or its lease
// has expired. Returns nil, nil when nothing is claimable.
func (s *Store) ClaimNextJob(ctx context.Context, stage Stage, workerID string, lease time.Duration) (*QueueItem, error) {
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}
	if lease <= 0 {
		return nil, fmt.Errorf("lease must be positive, got %s", lease)
	}
	ctx = ensureContext(ctx)
	lock := ""
	if s.driver == config.DriverPostgres {
		lock = " FOR UPDATE OF q SKIP LOCKED"
	}
	query := s.rebind(fmt.Sprintf(claimQuery, lock))

	var item *QueueItem
	err := retryOnBusy(ctx, func() error {
		now := s.now()
		nowMs := toMillis(now)
		claimed, err := scanItem(s.db.QueryRowContext(ctx, query,
			workerID, nowMs, toMillis(now.Add(lease)),
			stage, nowMs, nowMs, StatusCancelled,
			nowMs,
		))
		if errors.Is(err, sql.ErrNoRows) {
			item = nil
			return nil
		}
		if err != nil {
			return err
		}
		item = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim %s item: %w", stage, err)
	}
	return item, nil
}

// ReleaseJobClaim returns a claimed item to the backlog, due after delay.
// Only the current claimant may release.
func (s *Store) ReleaseJobClaim(ctx context.Context, queueID, workerID string, delay time.Duration) error {
	return s.inTx(ctx, func(tx *txn) error {
		jobID, _, err := tx.ownedItem(queueID, workerID)
		if err != nil {
			return err
		}
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		// Cancelled jobs never claim again; a released item would be orphaned.
		if job.Status == StatusCancelled {
			if _, err := tx.exec(`DELETE FROM queue_items WHERE id = ? AND worker_id = ?`, queueID, workerID); err != nil {
				return fmt.Errorf("delete queue item: %w", err)
			}
			return nil
		}
		now := s.now()
		if _, err := tx.exec(
			`UPDATE queue_items SET worker_id = NULL, claimed_at = NULL, claim_expires_at = NULL, next_attempt_at = ?
             WHERE id = ? AND worker_id = ?`,
			toMillis(now.Add(max(delay, 0))), queueID, workerID,
		); err != nil {
			return fmt.Errorf("release claim: %w", err)
		}
		if _, err := tx.exec(
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusQueued, toMillis(now), jobID, StatusProcessing,
		); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		return nil
	})
}

// CompleteJobStage finishes a claimed item. In one transaction it deletes the
// item, merges result into the job, and either enqueues next (job queued at
// next's stage) or, when next is nil, marks the job completed. A cancelled job
// only has its result recorded.
func (s *Store) CompleteJobStage(ctx context.Context, queueID, workerID string, result JobResult, next Payload) error {
	return s.inTx(ctx, func(tx *txn) error {
		jobID, stage, err := tx.ownedItem(queueID, workerID)
		if err != nil {
			return err
		}
		if _, err := tx.exec(`DELETE FROM queue_items WHERE id = ? AND worker_id = ?`, queueID, workerID); err != nil {
			return fmt.Errorf("delete queue item: %w", err)
		}
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		job.Result.Merge(result)
		job.StageProgress[stage] = 100
		resultJSON, err := encodeJSON(job.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		progressJSON, err := encodeJSON(job.StageProgress)
		if err != nil {
			return fmt.Errorf("encode stage progress: %w", err)
		}
		now := toMillis(s.now())

		if job.Status == StatusCancelled {
			retryPayload := ""
			if next != nil {
				if retryPayload, err = encodePayload(next); err != nil {
					return err
				}
				if _, err := tx.exec(`UPDATE jobs SET current_stage = ? WHERE id = ?`, next.Stage(), jobID); err != nil {
					return fmt.Errorf("record cancelled stage: %w", err)
				}
			}
			if _, err := tx.exec(
				`UPDATE jobs SET result_data = ?, stage_progress = ?, retry_payload = ?, updated_at = ? WHERE id = ?`,
				resultJSON, progressJSON, retryPayload, now, jobID,
			); err != nil {
				return fmt.Errorf("record cancelled result: %w", err)
			}
			return nil
		}

		if next != nil {
			if _, err := tx.insertItem(job, next, job.Priority, s.now()); err != nil {
				return err
			}
			if _, err := tx.exec(
				`UPDATE jobs SET status = ?, current_stage = ?, progress_percentage = ?, result_data = ?, stage_progress = ?, updated_at = ?
                 WHERE id = ?`,
				StatusQueued, next.Stage(), stage.CompletionPercent(), resultJSON, progressJSON, now, jobID,
			); err != nil {
				return fmt.Errorf("advance job: %w", err)
			}
			return nil
		}

		if _, err := tx.exec(
			`UPDATE jobs SET status = ?, progress_percentage = 100, result_data = ?, stage_progress = ?,
             last_error = '', error_category = '', updated_at = ?, completed_at = ? WHERE id = ?`,
			StatusCompleted, resultJSON, progressJSON, now, now, jobID,
		); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		return nil
	})
}

// FailJobStage records a failed attempt. A recoverable failure with attempts
// remaining releases the item for another try after policy.Delay and marks the
// job retrying; anything else deletes the item and fails the job. A positive
// policy.MaxAttempts lowers the item's own attempt limit.
func (s *Store) FailJobStage(ctx context.Context, queueID, workerID string, failure Failure, policy RetryPolicy) (FailOutcome, error) {
	var outcome FailOutcome
	err := s.inTx(ctx, func(tx *txn) error {
		var (
			jobID       string
			attempts    int
			maxAttempts int
			payload     string
		)
		err := tx.queryRow(
			`SELECT job_id, attempts, max_attempts, payload FROM queue_items WHERE id = ? AND worker_id = ?`,
			queueID, workerID,
		).Scan(&jobID, &attempts, &maxAttempts, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %s: %w", queueID, ErrClaimLost)
		}
		if err != nil {
			return fmt.Errorf("load queue item: %w", err)
		}
		job, err := tx.job(jobID)
		if err != nil {
			return err
		}
		attempts++
		if policy.MaxAttempts > 0 && policy.MaxAttempts < maxAttempts {
			maxAttempts = policy.MaxAttempts
		}
		now := s.now()
		nowMs := toMillis(now)
		outcome = FailOutcome{Attempts: attempts, MaxAttempts: maxAttempts}

		if job.Status == StatusCancelled {
			if _, err := tx.exec(`DELETE FROM queue_items WHERE id = ?`, queueID); err != nil {
				return fmt.Errorf("delete queue item: %w", err)
			}
			outcome.JobStatus = StatusCancelled
			return nil
		}

		if attempts < maxAttempts && failure.Category.Recoverable() {
			next := now.Add(max(policy.Delay, 0))
			if _, err := tx.exec(
				`UPDATE queue_items SET attempts = ?, worker_id = NULL, claimed_at = NULL, claim_expires_at = NULL, next_attempt_at = ?
                 WHERE id = ?`,
				attempts, toMillis(next), queueID,
			); err != nil {
				return fmt.Errorf("schedule retry: %w", err)
			}
			if _, err := tx.exec(
				`UPDATE jobs SET status = ?, retry_count = retry_count + 1, last_error = ?, error_category = ?, updated_at = ?
                 WHERE id = ?`,
				StatusRetrying, failure.Message, string(failure.Category), nowMs, jobID,
			); err != nil {
				return fmt.Errorf("mark job retrying: %w", err)
			}
			outcome.Retrying = true
			outcome.NextAttemptAt = fromMillis(toMillis(next))
			outcome.JobStatus = StatusRetrying
			return nil
		}

		if _, err := tx.exec(`DELETE FROM queue_items WHERE id = ?`, queueID); err != nil {
			return fmt.Errorf("delete queue item: %w", err)
		}
		if _, err := tx.exec(
			`UPDATE jobs SET status = ?, last_error = ?, error_category = ?, retry_payload = ?, updated_at = ?, completed_at = ?
             WHERE id = ?`,
			StatusFailed, failure.Message, string(failure.Category), payload, nowMs, nowMs, jobID,
		); err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		outcome.JobStatus = StatusFailed
		return nil
	})
	return outcome, err
}

// ExpiredClaims counts items whose claim lease has lapsed at now.
func (s *Store) ExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		s.rebind(`SELECT COUNT(1) FROM queue_items WHERE worker_id IS NOT NULL AND claim_expires_at <= ?`),
		toMillis(now),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expired claims: %w", err)
	}
	return count, nil
}

// ownedItem returns the job id and stage of an item currently claimed by workerID.
func (t *txn) ownedItem(queueID, workerID string) (string, Stage, error) {
	var (
		jobID string
		stage string
	)
	err := t.queryRow(`SELECT job_id, stage FROM queue_items WHERE id = ? AND worker_id = ?`, queueID, workerID).Scan(&jobID, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("item %s: %w", queueID, ErrClaimLost)
	}
	if err != nil {
		return "", "", fmt.Errorf("load queue item: %w", err)
	}
	return jobID, Stage(stage), nil
}
