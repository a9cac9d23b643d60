package api

import (
	"finalcut/internal/progress"
	"finalcut/internal/queue"
	"finalcut/internal/timeline"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID                 string             `json:"id"`
	Status             string             `json:"status"`
	Priority           int                `json:"priority"`
	CurrentStage       string             `json:"current_stage,omitempty"`
	StageLabel         string             `json:"stage_label,omitempty"`
	ProgressPercentage float64            `json:"progress_percentage"`
	StageProgress      map[string]float64 `json:"stage_progress,omitempty"`
	Options            queue.Options      `json:"options"`
	RetryCount         int                `json:"retry_count"`
	MaxRetries         int                `json:"max_retries"`
	LastError          string             `json:"last_error,omitempty"`
	ErrorCategory      string             `json:"error_category,omitempty"`
	Recoverable        bool               `json:"recoverable,omitempty"`
	RecoveryActions    []string           `json:"recovery_actions,omitempty"`
	SourcePath         string             `json:"source_path"`
	OriginalName       string             `json:"original_name,omitempty"`
	CreatedAt          string             `json:"created_at,omitempty"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
	StartedAt          string             `json:"started_at,omitempty"`
	CompletedAt        string             `json:"completed_at,omitempty"`
	Result             queue.JobResult    `json:"result"`
	Live               *progress.Snapshot `json:"live,omitempty"`
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	SourcePath           string  `json:"source_path" validate:"required"`
	OriginalName         string  `json:"original_name,omitempty" validate:"omitempty,max=255"`
	Priority             int     `json:"priority,omitempty" validate:"gte=-100,lte=100"`
	MaxRetries           int     `json:"max_retries,omitempty" validate:"gte=0,lte=20"`
	ChunkDurationSeconds float64 `json:"chunk_duration_seconds,omitempty" validate:"omitempty,gte=10,lte=3600"`
	AnalysisModel        string  `json:"analysis_model,omitempty"`
	MinConfidence        float64 `json:"min_confidence,omitempty" validate:"gte=0,lte=1"`
	FPSOverride          float64 `json:"fps_override,omitempty" validate:"omitempty,gt=0,lte=240"`
	RenderQuality        string  `json:"render_quality,omitempty" validate:"omitempty,oneof=low medium high"`
	RenderResolution     string  `json:"render_resolution,omitempty" validate:"omitempty,oneof=480p 720p 1080p 1440p 2160p"`
	MaxFileSizeMB        int     `json:"max_file_size_mb,omitempty" validate:"gte=0"`
}

// RenderRequest is the body of POST /api/jobs/{id}/render. Every field is optional.
type RenderRequest struct {
	FPS        float64 `json:"fps,omitempty" validate:"omitempty,gt=0,lte=240"`
	Resolution string  `json:"resolution,omitempty" validate:"omitempty,oneof=480p 720p 1080p 1440p 2160p"`
	Quality    string  `json:"quality,omitempty" validate:"omitempty,oneof=low medium high"`
}

// QueueItem is a pending or claimed unit of stage work.
type QueueItem struct {
	ID          string `json:"id"`
	Stage       string `json:"stage"`
	WorkerID    string `json:"worker_id,omitempty"`
	Claimed     bool   `json:"claimed"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	NextAttempt string `json:"next_attempt_at,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job   Job         `json:"job"`
	Items []QueueItem `json:"items,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// LogEntry is one persisted job log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Stage     string `json:"stage,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// LogsResponse wraps a job's log lines, oldest first.
type LogsResponse struct {
	JobID   string     `json:"job_id"`
	Entries []LogEntry `json:"entries"`
}

// TimelineResponse carries the assembled timeline.
type TimelineResponse struct {
	JobID    string                      `json:"job_id"`
	Timeline *timeline.ProcessedTimeline `json:"timeline"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running       bool           `json:"running"`
	Ready         bool           `json:"ready"`
	LastError     string         `json:"last_error,omitempty"`
	JobCounts     map[string]int `json:"job_counts"`
	ItemCounts    map[string]int `json:"item_counts"`
	ActiveClaims  int            `json:"active_claims"`
	ExpiredClaims int            `json:"expired_claims"`
	Workers       []WorkerStatus `json:"workers"`
	StageHealth   []StageHealth  `json:"stage_health"`
}

// WorkerStatus mirrors one stage pool's counters.
type WorkerStatus struct {
	WorkerID      string `json:"worker_id"`
	Stage         string `json:"stage"`
	Running       bool   `json:"running"`
	Concurrency   int    `json:"concurrency"`
	ActiveJobs    int    `json:"active_jobs"`
	JobsProcessed int64  `json:"jobs_processed"`
	JobsFailed    int64  `json:"jobs_failed"`
	JobsReleased  int64  `json:"jobs_released"`
	LastError     string `json:"last_error,omitempty"`
	LastPoll      string `json:"last_poll,omitempty"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
