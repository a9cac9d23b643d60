package queue

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// AddLog appends a job log line.
func (s *Store) AddLog(ctx context.Context, entry LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	if _, err := s.exec(ctx,
		`INSERT INTO job_logs (id, job_id, stage, level, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.Stage, entry.Level, entry.Message, toMillis(created),
	); err != nil {
		return fmt.Errorf("add job log: %w", err)
	}
	return nil
}

// Logs returns up to limit of the job's most recent log lines, oldest first.
func (s *Store) Logs(ctx context.Context, jobID string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), s.rebind(
		`SELECT id, job_id, stage, level, message, created_at FROM job_logs
         WHERE job_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`), jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry   LogEntry
			stage   string
			created int64
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &stage, &entry.Level, &entry.Message, &created); err != nil {
			return nil, err
		}
		entry.Stage = Stage(stage)
		entry.CreatedAt = fromMillis(created)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}
