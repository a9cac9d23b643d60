package queue

import (
	"time"

	"finalcut/internal/services"
	"finalcut/internal/timeline"
)

// UploadResult records the validated source.
type UploadResult struct {
	SourcePath string  `json:"source_path"`
	StorageKey string  `json:"storage_key,omitempty"`
	SizeBytes  int64   `json:"size_bytes"`
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
}

// ChunksResult records the chunk plan produced by split_chunks.
type ChunksResult struct {
	Count         int     `json:"count"`
	ChunkDuration float64 `json:"chunk_duration"`
	WorkDir       string  `json:"work_dir"`
}

// StorageResult records where chunks were stored.
type StorageResult struct {
	Stored     int    `json:"stored"`
	Prefix     string `json:"prefix"`
	BytesTotal int64  `json:"bytes_total"`
}

// AnalysisResult summarises the analysis stage.
type AnalysisResult struct {
	Model          string   `json:"model"`
	ChunksAnalyzed int      `json:"chunks_analyzed"`
	SegmentsFound  int      `json:"segments_found"`
	Summaries      []string `json:"summaries,omitempty"`
}

// RenderResult tracks a render submitted to the backend.
type RenderResult struct {
	RenderID  string  `json:"render_id"`
	State     string  `json:"state"`
	OutputURL string  `json:"output_url,omitempty"`
	Clips     int     `json:"clips"`
	Duration  float64 `json:"duration"`
	FPS       float64 `json:"fps"`
	Error     string  `json:"error,omitempty"`
}

// JobResult holds one optional section per stage.
type JobResult struct {
	Upload   *UploadResult               `json:"upload,omitempty"`
	Chunks   *ChunksResult               `json:"chunks,omitempty"`
	Storage  *StorageResult              `json:"storage,omitempty"`
	Analysis *AnalysisResult             `json:"analysis,omitempty"`
	Timeline *timeline.ProcessedTimeline `json:"timeline,omitempty"`
	Render   *RenderResult               `json:"render,omitempty"`
}

// Merge overwrites each section of r that is set in other.
func (r *JobResult) Merge(other JobResult) {
	if other.Upload != nil {
		r.Upload = other.Upload
	}
	if other.Chunks != nil {
		r.Chunks = other.Chunks
	}
	if other.Storage != nil {
		r.Storage = other.Storage
	}
	if other.Analysis != nil {
		r.Analysis = other.Analysis
	}
	if other.Timeline != nil {
		r.Timeline = other.Timeline
	}
	if other.Render != nil {
		r.Render = other.Render
	}
}

// ChunkAnalysis is the parsed analysis of one chunk. Segment times are
// absolute (already offset by the chunk start).
type ChunkAnalysis struct {
	Model    string             `json:"model"`
	Summary  string             `json:"summary,omitempty"`
	Segments []timeline.Segment `json:"segments"`
	Dropped  int                `json:"dropped,omitempty"`
}

// RetryPolicy bounds how a failed attempt is retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Failure describes a failed stage attempt.
type Failure struct {
	Message  string
	Category services.Category
}
