package queue

import (
	"context"
	"fmt"
	"time"
)

// QueueItems lists queue items, highest priority first.
func (s *Store) QueueItems(ctx context.Context, filter ItemFilter) ([]*QueueItem, error) {
	query := "SELECT " + itemColumns + " FROM queue_items WHERE 1 = 1"
	var args []any
	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, filter.JobID)
	}
	query += " ORDER BY priority DESC, next_attempt_at, created_at"
	rows, err := s.db.QueryContext(ensureContext(ctx), s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats returns job counts by status, item counts by stage, and claim counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{Jobs: map[Status]int{}, Items: map[Stage]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("job stats: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.Jobs[Status(status)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM queue_items GROUP BY stage`)
	if err != nil {
		return stats, fmt.Errorf("item stats: %w", err)
	}
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.Items[Stage(stage)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	now := toMillis(s.now())
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT
             COALESCE(SUM(CASE WHEN claim_expires_at > ? THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN claim_expires_at <= ? THEN 1 ELSE 0 END), 0)
         FROM queue_items WHERE worker_id IS NOT NULL`), now, now,
	).Scan(&stats.ActiveClaims, &stats.ExpiredClaims)
	if err != nil {
		return stats, fmt.Errorf("claim stats: %w", err)
	}
	return stats, nil
}

// PurgeFinished deletes completed, failed, and cancelled jobs last updated
// before olderThan, along with their items, chunks, and logs.
func (s *Store) PurgeFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	err := s.inTx(ctx, func(tx *txn) error {
		args := []any{StatusCompleted, StatusFailed, StatusCancelled, toMillis(olderThan)}
		selectFinished := `SELECT id FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`
		for _, table := range []string{"job_logs", "video_chunks", "queue_items"} {
			if _, err := tx.exec(`DELETE FROM `+table+` WHERE job_id IN (`+selectFinished+`)`, args...); err != nil {
				return fmt.Errorf("purge %s: %w", table, err)
			}
		}
		res, err := tx.exec(`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`, args...)
		if err != nil {
			return fmt.Errorf("purge jobs: %w", err)
		}
		purged, _ = res.RowsAffected()
		return nil
	})
	return purged, err
}
