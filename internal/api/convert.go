package api

import (
	"sort"
	"time"

	"finalcut/internal/progress"
	"finalcut/internal/queue"
	"finalcut/internal/services"
	"finalcut/internal/workflow"
)

// FromJob converts a repository job into its transport form.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:                 job.ID,
		Status:             string(job.Status),
		Priority:           job.Priority,
		CurrentStage:       string(job.CurrentStage),
		ProgressPercentage: job.ProgressPercentage,
		Options:            job.Options,
		RetryCount:         job.RetryCount,
		MaxRetries:         job.MaxRetries,
		LastError:          job.LastError,
		ErrorCategory:      job.ErrorCategory,
		SourcePath:         job.SourcePath,
		OriginalName:       job.OriginalName,
		CreatedAt:          formatTime(job.CreatedAt),
		UpdatedAt:          formatTime(job.UpdatedAt),
		StartedAt:          formatTimePtr(job.StartedAt),
		CompletedAt:        formatTimePtr(job.CompletedAt),
		Result:             job.Result,
	}
	if job.CurrentStage != "" {
		dto.StageLabel = job.CurrentStage.Label()
	}
	if len(job.StageProgress) > 0 {
		dto.StageProgress = make(map[string]float64, len(job.StageProgress))
		for st, pct := range job.StageProgress {
			dto.StageProgress[string(st)] = pct
		}
	}
	if category, ok := services.ParseCategory(job.ErrorCategory); ok {
		dto.Recoverable = category.Recoverable()
		dto.RecoveryActions = category.RecoveryActions()
	}
	return dto
}

// FromJobs converts a slice of jobs, preserving order.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// WithLive attaches the tracker snapshot for a running job, if any.
func WithLive(job Job, tracker *progress.Tracker) Job {
	if tracker == nil {
		return job
	}
	if snap, ok := tracker.Snapshot(job.ID); ok {
		job.Live = &snap
	}
	return job
}

// FromQueueItems converts pending items for a job. Items whose claim lapsed
// before now are reported unclaimed.
func FromQueueItems(items []*queue.QueueItem, now time.Time) []QueueItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, QueueItem{
			ID:          item.ID,
			Stage:       string(item.Stage),
			WorkerID:    item.WorkerID,
			Claimed:     item.Claimed(now),
			Attempts:    item.Attempts,
			MaxAttempts: item.MaxAttempts,
			NextAttempt: formatTime(item.NextAttemptAt),
		})
	}
	return out
}

// FromLogEntries converts persisted log lines.
func FromLogEntries(entries []queue.LogEntry) []LogEntry {
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntry{
			Timestamp: formatTime(e.CreatedAt),
			Stage:     string(e.Stage),
			Level:     e.Level,
			Message:   e.Message,
		})
	}
	return out
}

// FromStatusSummary converts workflow.StatusSummary into its transport form.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:       summary.Running,
		Ready:         summary.Ready(),
		LastError:     summary.LastError,
		JobCounts:     make(map[string]int, len(summary.QueueStats.Jobs)),
		ItemCounts:    make(map[string]int, len(summary.QueueStats.Items)),
		ActiveClaims:  summary.QueueStats.ActiveClaims,
		ExpiredClaims: summary.QueueStats.ExpiredClaims,
		Workers:       make([]WorkerStatus, 0, len(summary.Workers)),
		StageHealth:   StageHealthSlice(summary),
	}
	for st, n := range summary.QueueStats.Jobs {
		status.JobCounts[string(st)] = n
	}
	for st, n := range summary.QueueStats.Items {
		status.ItemCounts[string(st)] = n
	}
	for _, w := range summary.Workers {
		status.Workers = append(status.Workers, WorkerStatus{
			WorkerID:      w.WorkerID,
			Stage:         string(w.Stage),
			Running:       w.Running,
			Concurrency:   w.Concurrency,
			ActiveJobs:    w.ActiveJobs,
			JobsProcessed: w.JobsProcessed,
			JobsFailed:    w.JobsFailed,
			JobsReleased:  w.JobsReleased,
			LastError:     w.LastError,
			LastPoll:      formatTime(w.LastPoll),
		})
	}
	return status
}

// StageHealthSlice orders stage health by pipeline position.
func StageHealthSlice(summary workflow.StatusSummary) []StageHealth {
	out := make([]StageHealth, 0, len(summary.StageHealth))
	for name, h := range summary.StageHealth {
		if h.Name == "" {
			h.Name = name
		}
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	order := make(map[string]int)
	for i, st := range queue.Stages() {
		order[string(st)] = i
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i].Name]
		oj, jok := order[out[j].Name]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ParseTime parses API timestamps; invalid input yields the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
