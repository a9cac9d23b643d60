package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, status, priority, current_stage, progress_percentage, stage_progress, processing_options, retry_count, max_retries, last_error, error_category, result_data, source_path, original_name, created_at, updated_at, started_at, completed_at"

const itemColumns = "id, job_id, stage, priority, worker_id, claimed_at, claim_expires_at, attempts, max_attempts, next_attempt_at, payload, created_at"

const chunkColumns = "id, job_id, chunk_index, storage_path, local_path, start_time, end_time, duration, file_size, uploaded, processed, analysis_result"

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job           Job
		status        string
		stage         string
		stageProgress string
		options       string
		result        string
		created       int64
		updated       int64
		started       sql.NullInt64
		completed     sql.NullInt64
	)
	if err := scanner.Scan(
		&job.ID,
		&status,
		&job.Priority,
		&stage,
		&job.ProgressPercentage,
		&stageProgress,
		&options,
		&job.RetryCount,
		&job.MaxRetries,
		&job.LastError,
		&job.ErrorCategory,
		&result,
		&job.SourcePath,
		&job.OriginalName,
		&created,
		&updated,
		&started,
		&completed,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.CurrentStage = Stage(stage)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	job.StartedAt = fromNullMillis(started)
	job.CompletedAt = fromNullMillis(completed)
	if err := decodeJSON(stageProgress, &job.StageProgress); err != nil {
		return nil, fmt.Errorf("job %s stage_progress: %w", job.ID, err)
	}
	if job.StageProgress == nil {
		job.StageProgress = map[Stage]float64{}
	}
	if err := decodeJSON(options, &job.Options); err != nil {
		return nil, fmt.Errorf("job %s processing_options: %w", job.ID, err)
	}
	if err := decodeJSON(result, &job.Result); err != nil {
		return nil, fmt.Errorf("job %s result_data: %w", job.ID, err)
	}
	return &job, nil
}

func scanItem(scanner rowScanner) (*QueueItem, error) {
	var (
		item      QueueItem
		stage     string
		workerID  sql.NullString
		claimedAt sql.NullInt64
		expiresAt sql.NullInt64
		nextAt    int64
		payload   string
		created   int64
	)
	if err := scanner.Scan(
		&item.ID,
		&item.JobID,
		&stage,
		&item.Priority,
		&workerID,
		&claimedAt,
		&expiresAt,
		&item.Attempts,
		&item.MaxAttempts,
		&nextAt,
		&payload,
		&created,
	); err != nil {
		return nil, err
	}
	item.Stage = Stage(stage)
	item.WorkerID = workerID.String
	item.ClaimedAt = fromNullMillis(claimedAt)
	item.ClaimExpiresAt = fromNullMillis(expiresAt)
	item.NextAttemptAt = fromMillis(nextAt)
	item.Payload = []byte(payload)
	item.CreatedAt = fromMillis(created)
	return &item, nil
}

func scanChunk(scanner rowScanner) (*Chunk, error) {
	var (
		chunk     Chunk
		uploaded  int64
		processed int64
		analysis  string
	)
	if err := scanner.Scan(
		&chunk.ID,
		&chunk.JobID,
		&chunk.Index,
		&chunk.StoragePath,
		&chunk.LocalPath,
		&chunk.StartTime,
		&chunk.EndTime,
		&chunk.Duration,
		&chunk.FileSize,
		&uploaded,
		&processed,
		&analysis,
	); err != nil {
		return nil, err
	}
	chunk.Uploaded = uploaded != 0
	chunk.Processed = processed != 0
	if strings.TrimSpace(analysis) != "" {
		var parsed ChunkAnalysis
		if err := json.Unmarshal([]byte(analysis), &parsed); err != nil {
			return nil, fmt.Errorf("chunk %d analysis: %w", chunk.Index, err)
		}
		chunk.Analysis = &parsed
	}
	return &chunk, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw string, dest any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
