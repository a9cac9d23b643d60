package chunking

import (
	"context"

	"finalcut/internal/queue"
)

// Repository is the chunk persistence both stages need.
type Repository interface {
	UpsertChunk(ctx context.Context, chunk *queue.Chunk) error
	Chunks(ctx context.Context, jobID string) ([]*queue.Chunk, error)
	MarkChunkUploaded(ctx context.Context, jobID string, index int, storagePath string) error
	DeleteChunks(ctx context.Context, jobID string) (int64, error)
}
