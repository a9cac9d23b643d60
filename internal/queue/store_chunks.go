package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// UpsertChunk inserts or replaces the chunk at (JobID, Index). Upload and
// analysis state are preserved on replace.
func (s *Store) UpsertChunk(ctx context.Context, chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("nil chunk")
	}
	if chunk.Index < 0 {
		return fmt.Errorf("chunk index must be non-negative, got %d", chunk.Index)
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	now := toMillis(s.now())
	if _, err := s.exec(ctx,
		`INSERT INTO video_chunks (id, job_id, chunk_index, storage_path, local_path, start_time, end_time, duration, file_size, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (job_id, chunk_index) DO UPDATE SET
             local_path = excluded.local_path,
             start_time = excluded.start_time,
             end_time = excluded.end_time,
             duration = excluded.duration,
             file_size = excluded.file_size,
             updated_at = excluded.updated_at`,
		chunk.ID, chunk.JobID, chunk.Index, chunk.StoragePath, chunk.LocalPath,
		chunk.StartTime, chunk.EndTime, chunk.Duration, chunk.FileSize, now, now,
	); err != nil {
		return fmt.Errorf("upsert chunk %d: %w", chunk.Index, err)
	}
	return nil
}

// Chunks returns a job's chunks ordered by index.
func (s *Store) Chunks(ctx context.Context, jobID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		s.rebind("SELECT "+chunkColumns+" FROM video_chunks WHERE job_id = ? ORDER BY chunk_index"), jobID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// MarkChunkUploaded records the storage key of an uploaded chunk.
func (s *Store) MarkChunkUploaded(ctx context.Context, jobID string, index int, storagePath string) error {
	res, err := s.exec(ctx,
		`UPDATE video_chunks SET storage_path = ?, uploaded = 1, updated_at = ? WHERE job_id = ? AND chunk_index = ?`,
		storagePath, toMillis(s.now()), jobID, index,
	)
	if err != nil {
		return fmt.Errorf("mark chunk uploaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s/%d: %w", jobID, index, ErrNotFound)
	}
	return nil
}

// SaveChunkAnalysis stores the analysis of one chunk and marks it processed.
func (s *Store) SaveChunkAnalysis(ctx context.Context, jobID string, index int, analysis ChunkAnalysis) error {
	encoded, err := encodeJSON(analysis)
	if err != nil {
		return fmt.Errorf("encode chunk analysis: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE video_chunks SET analysis_result = ?, processed = 1, updated_at = ? WHERE job_id = ? AND chunk_index = ?`,
		encoded, toMillis(s.now()), jobID, index,
	)
	if err != nil {
		return fmt.Errorf("save chunk analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s/%d: %w", jobID, index, ErrNotFound)
	}
	return nil
}

// DeleteChunks removes every chunk of a job.
func (s *Store) DeleteChunks(ctx context.Context, jobID string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM video_chunks WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return res.RowsAffected()
}

// VerifyChunkSequence reports ErrChunkGap unless chunks hold exactly the
// indexes 0..want-1. want <= 0 accepts any non-empty contiguous sequence.
func VerifyChunkSequence(chunks []*Chunk, want int) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrChunkGap)
	}
	indexes := make([]int, 0, len(chunks))
	for _, chunk := range chunks {
		indexes = append(indexes, chunk.Index)
	}
	sort.Ints(indexes)
	for i, index := range indexes {
		if index != i {
			return fmt.Errorf("%w: expected chunk %d, found %d", ErrChunkGap, i, index)
		}
	}
	if want > 0 && len(indexes) != want {
		return fmt.Errorf("%w: have %d chunks, expected %d", ErrChunkGap, len(indexes), want)
	}
	return nil
}
