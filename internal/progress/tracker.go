// Package progress tracks per-job, per-stage progress in memory and derives
// an overall percentage and a time estimate.
//
// The tracker is process-local. Workers publish its overall figure back to the
// job repository so other processes can see it.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrUnknownJob reports a job that was never started or was removed.
	ErrUnknownJob = errors.New("unknown job")
	// ErrUnknownStage reports a stage that is not part of the job's plan.
	ErrUnknownStage = errors.New("unknown stage")
)

// Status is the state of one stage or sub-stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// SubStage is a named step inside a stage, such as one chunk upload.
type SubStage struct {
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
	Status   Status  `json:"status"`
	Message  string  `json:"message,omitempty"`
}

// Stage is a snapshot of one stage.
type Stage struct {
	Name        string     `json:"name"`
	Progress    float64    `json:"progress"`
	Status      Status     `json:"status"`
	Message     string     `json:"message,omitempty"`
	SubStages   []SubStage `json:"sub_stages,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is a copy of a job's progress at one instant.
type Snapshot struct {
	JobID              string        `json:"job_id"`
	Stages             []Stage       `json:"stages"`
	OverallProgress    float64       `json:"overall_progress"`
	StartedAt          time.Time     `json:"started_at"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedTotal     time.Duration `json:"estimated_total,omitempty"`
	EstimatedRemaining time.Duration `json:"estimated_remaining,omitempty"`
}

type jobProgress struct {
	startedAt time.Time
	stages    []Stage
}

func (j *jobProgress) stage(name string) (*Stage, error) {
	for i := range j.stages {
		if j.stages[i].Name == name {
			return &j.stages[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock used for elapsed time and estimates.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker holds progress for many jobs. It is safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*jobProgress
	now  func() time.Time
}

// NewTracker constructs an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{jobs: make(map[string]*jobProgress), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start (re)initialises a job with the ordered stage names, all pending.
func (t *Tracker) Start(jobID string, stages []string) {
	job := t.newJob(stages)
	t.mu.Lock()
	t.jobs[jobID] = job
	t.mu.Unlock()
}

// Ensure starts the job when it is not already tracked and reports whether it did.
func (t *Tracker) Ensure(jobID string, stages []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[jobID]; ok {
		return false
	}
	t.jobs[jobID] = t.newJob(stages)
	return true
}

func (t *Tracker) newJob(stages []string) *jobProgress {
	job := &jobProgress{startedAt: t.now(), stages: make([]Stage, 0, len(stages))}
	for _, name := range stages {
		job.stages = append(job.stages, Stage{Name: name, Status: StatusPending})
	}
	return job
}

// StartStage marks a stage active.
func (t *Tracker) StartStage(jobID, stage string) error {
	return t.update(jobID, stage, func(s *Stage, now time.Time) {
		s.Status = StatusActive
		s.Progress = 0
		s.Message = ""
		s.StartedAt = &now
		s.CompletedAt = nil
	})
}

// UpdateStageProgress sets a stage's progress, clamped to [0, 100].
func (t *Tracker) UpdateStageProgress(jobID, stage string, percent float64, message string) error {
	return t.update(jobID, stage, func(s *Stage, now time.Time) {
		if s.Status == StatusPending {
			s.Status = StatusActive
			s.StartedAt = &now
		}
		s.Progress = clamp(percent)
		if message != "" {
			s.Message = message
		}
	})
}

// UpdateSubStage creates or updates a named sub-stage. The sub-stage is
// completed once it reaches 100.
func (t *Tracker) UpdateSubStage(jobID, stage, subStage string, percent float64, message string) error {
	return t.update(jobID, stage, func(s *Stage, _ time.Time) {
		percent = clamp(percent)
		status := StatusActive
		if percent >= 100 {
			status = StatusCompleted
		}
		for i := range s.SubStages {
			if s.SubStages[i].Name == subStage {
				s.SubStages[i].Progress = percent
				s.SubStages[i].Status = status
				if message != "" {
					s.SubStages[i].Message = message
				}
				return
			}
		}
		s.SubStages = append(s.SubStages, SubStage{Name: subStage, Progress: percent, Status: status, Message: message})
	})
}

// CompleteStage marks a stage completed at 100%.
func (t *Tracker) CompleteStage(jobID, stage string) error {
	return t.finish(jobID, stage, StatusCompleted, "")
}

// FailStage marks a stage failed, keeping its progress.
func (t *Tracker) FailStage(jobID, stage, message string) error {
	return t.finish(jobID, stage, StatusFailed, message)
}

// SkipStage marks a stage skipped; skipped stages count as complete.
func (t *Tracker) SkipStage(jobID, stage, reason string) error {
	return t.finish(jobID, stage, StatusSkipped, reason)
}

// Snapshot returns a copy of the job's progress.
func (t *Tracker) Snapshot(jobID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}

	snap := Snapshot{
		JobID:     jobID,
		Stages:    make([]Stage, len(job.stages)),
		StartedAt: job.startedAt,
		Elapsed:   t.now().Sub(job.startedAt),
	}
	var total float64
	for i, s := range job.stages {
		cp := s
		cp.SubStages = append([]SubStage(nil), s.SubStages...)
		snap.Stages[i] = cp
		if s.Status == StatusSkipped {
			total += 100
		} else {
			total += s.Progress
		}
	}
	if len(job.stages) > 0 {
		snap.OverallProgress = total / float64(len(job.stages))
	}
	if snap.OverallProgress > 0 {
		snap.EstimatedTotal = time.Duration(float64(snap.Elapsed) * 100 / snap.OverallProgress)
		snap.EstimatedRemaining = max(snap.EstimatedTotal-snap.Elapsed, 0)
	}
	return snap, true
}

// Remove forgets a job.
func (t *Tracker) Remove(jobID string) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

// Jobs returns the ids of tracked jobs.
func (t *Tracker) Jobs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.jobs))
	for id := range t.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tracker) finish(jobID, stage string, status Status, message string) error {
	return t.update(jobID, stage, func(s *Stage, now time.Time) {
		s.Status = status
		if status == StatusCompleted {
			s.Progress = 100
		}
		if message != "" {
			s.Message = message
		}
		s.CompletedAt = &now
	})
}

func (t *Tracker) update(jobID, stage string, fn func(*Stage, time.Time)) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	s, err := job.stage(stage)
	if err != nil {
		return err
	}
	fn(s, t.now())
	return nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
