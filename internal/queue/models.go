package queue

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRetrying   Status = "retrying"
)

var allStatuses = []Status{
	StatusPending,
	StatusQueued,
	StatusProcessing,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further work will happen without user action.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Stage names one step of the pipeline. Each stage has its own worker pool
// and payload type.
type Stage string

const (
	StageUpload           Stage = "upload"
	StageSplitChunks      Stage = "split_chunks"
	StageStoreChunks      Stage = "store_chunks"
	StageQueueAnalysis    Stage = "queue_analysis"
	StageGeminiProcessing Stage = "gemini_processing"
	StageAssembleTimeline Stage = "assemble_timeline"
	StageRenderVideo      Stage = "render_video"
)

var stageOrder = []Stage{
	StageUpload,
	StageSplitChunks,
	StageStoreChunks,
	StageQueueAnalysis,
	StageGeminiProcessing,
	StageAssembleTimeline,
	StageRenderVideo,
}

// stageCompletion is the job progress reached when a stage completes.
var stageCompletion = map[Stage]float64{
	StageUpload:           10,
	StageSplitChunks:      25,
	StageStoreChunks:      40,
	StageQueueAnalysis:    45,
	StageGeminiProcessing: 85,
	StageAssembleTimeline: 100,
	StageRenderVideo:      100,
}

var stageTitle = cases.Title(language.English)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range stageOrder {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// Next returns the stage that follows s in pipeline order.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Previous returns the stage that precedes s in pipeline order.
func (s Stage) Previous() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i > 0 {
			return stageOrder[i-1], true
		}
	}
	return "", false
}

// Label returns a human readable stage name, e.g. "Split Chunks".
func (s Stage) Label() string {
	return stageTitle.String(strings.ReplaceAll(string(s), "_", " "))
}

// CompletionPercent returns the job progress reached once s completes.
func (s Stage) CompletionPercent() float64 {
	return stageCompletion[s]
}

// Options are the per-job processing options supplied at creation.
type Options struct {
	ChunkDurationSeconds float64 `json:"chunk_duration_seconds,omitempty"`
	AnalysisModel        string  `json:"analysis_model,omitempty"`
	MinConfidence        float64 `json:"min_confidence,omitempty"`
	FPSOverride          float64 `json:"fps_override,omitempty"`
	RenderQuality        string  `json:"render_quality,omitempty"`
	RenderResolution     string  `json:"render_resolution,omitempty"`
	MaxFileSizeMB        int     `json:"max_file_size_mb,omitempty"`
}

// NewJob describes a job to create.
type NewJob struct {
	SourcePath   string
	OriginalName string
	Priority     int
	MaxRetries   int
	Options      Options
}

// Job is one video moving through the pipeline.
type Job struct {
	ID                 string
	Status             Status
	Priority           int
	CurrentStage       Stage
	ProgressPercentage float64
	StageProgress      map[Stage]float64
	Options            Options
	RetryCount         int
	MaxRetries         int
	LastError          string
	ErrorCategory      string
	Result             JobResult
	SourcePath         string
	OriginalName       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// QueueItem is a unit of claimable work for one stage of one job.
type QueueItem struct {
	ID             string
	JobID          string
	Stage          Stage
	Priority       int
	WorkerID       string
	ClaimedAt      *time.Time
	ClaimExpiresAt *time.Time
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	Payload        []byte
	CreatedAt      time.Time
}

// Claimed reports whether the item holds an unexpired claim at now.
func (q QueueItem) Claimed(now time.Time) bool {
	return q.WorkerID != "" && q.ClaimExpiresAt != nil && q.ClaimExpiresAt.After(now)
}

// Chunk is one time slice of a job's source video.
type Chunk struct {
	ID          string
	JobID       string
	Index       int
	StoragePath string
	LocalPath   string
	StartTime   float64
	EndTime     float64
	Duration    float64
	FileSize    int64
	Uploaded    bool
	Processed   bool
	Analysis    *ChunkAnalysis
}

// LogEntry is a job-scoped log line persisted for the API and CLI.
type LogEntry struct {
	ID        string
	JobID     string
	Stage     Stage
	Level     string
	Message   string
	CreatedAt time.Time
}

// JobUpdate is a partial job update. Only non-nil fields are written;
// StageProgress entries are merged into the stored map and Result is merged
// section-wise.
type JobUpdate struct {
	Status             *Status
	CurrentStage       *Stage
	ProgressPercentage *float64
	StageProgress      map[Stage]float64
	LastError          *string
	ErrorCategory      *string
	Result             *JobResult
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Statuses []Status
	Limit    int
	Offset   int
}

// ItemFilter narrows QueueItems.
type ItemFilter struct {
	Stage Stage
	JobID string
}

// FailOutcome reports what FailJobStage did with the item.
type FailOutcome struct {
	Retrying      bool
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	JobStatus     Status
}

// Stats aggregates repository counts for status output.
type Stats struct {
	Jobs          map[Status]int
	Items         map[Stage]int
	ActiveClaims  int
	ExpiredClaims int
}
