package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"finalcut/internal/logging"
)

var (
	// ErrNothingToKeep is returned alongside a timeline whose removes cover the whole video.
	ErrNothingToKeep = errors.New("timeline removes the entire video")
	// ErrInvalidDuration rejects non-positive or non-finite source durations.
	ErrInvalidDuration = errors.New("invalid original duration")
)

// Summary describes the effect of the edit on running time.
type Summary struct {
	OriginalDuration    float64 `json:"original_duration"`
	FinalDuration       float64 `json:"final_duration"`
	TimeReduction       float64 `json:"time_reduction"`
	ReductionPercentage float64 `json:"reduction_percentage"`
	SegmentsKept        int     `json:"segments_kept"`
	SegmentsRemoved     int     `json:"segments_removed"`
}

// RenderInstructions is the contract handed to the render stage.
type RenderInstructions struct {
	Cuts  []Span `json:"cuts"`
	Keeps []Span `json:"keeps"`
}

// Discard records a segment dropped during validation.
type Discard struct {
	Segment Segment `json:"segment"`
	Reason  string  `json:"reason"`
}

// ProcessedTimeline is the immutable result of one assembly run.
type ProcessedTimeline struct {
	Segments           []Segment          `json:"segments"`
	SegmentsToKeep     []Segment          `json:"segments_to_keep"`
	SegmentsToRemove   []Segment          `json:"segments_to_remove"`
	Summary            Summary            `json:"summary"`
	RenderInstructions RenderInstructions `json:"render_instructions"`
	Discarded          []Discard          `json:"discarded,omitempty"`
	Warnings           []string           `json:"warnings,omitempty"`
}

// Empty reports whether the timeline keeps no content.
func (p *ProcessedTimeline) Empty() bool {
	return p == nil || len(p.SegmentsToKeep) == 0
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMinConfidence drops segments whose reported confidence is positive but
// below threshold. Segments without a confidence are kept.
func WithMinConfidence(threshold float64) Option {
	return func(a *Assembler) { a.minConfidence = threshold }
}

// Assembler validates, merges, and inverts remove segments.
type Assembler struct {
	logger        *slog.Logger
	minConfidence float64
}

// NewAssembler constructs an Assembler. A nil logger discards output.
func NewAssembler(logger *slog.Logger, opts ...Option) *Assembler {
	a := &Assembler{logger: logging.NewComponentLogger(logger, "timeline")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds a ProcessedTimeline from raw remove segments. When the
// removes cover the entire video the timeline is still returned together with
// ErrNothingToKeep.
func (a *Assembler) Assemble(removes []Segment, originalDuration float64) (*ProcessedTimeline, error) {
	if !finite(originalDuration) || originalDuration <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, originalDuration)
	}

	valid, discarded := a.validate(removes, originalDuration)
	for _, d := range discarded {
		a.logger.Warn("segment discarded",
			logging.String(logging.FieldEventType, "segment_discarded"),
			logging.Float64("start_time", d.Segment.StartTime),
			logging.Float64("end_time", d.Segment.EndTime),
			logging.String("reason", d.Reason),
		)
	}

	merged := Merge(valid)
	keeps := Invert(merged, originalDuration)

	result := &ProcessedTimeline{
		SegmentsToKeep:   keeps,
		SegmentsToRemove: merged,
		Segments:         interleave(keeps, merged),
		Summary:          Summarize(keeps, merged, originalDuration),
		Discarded:        discarded,
	}
	for _, k := range keeps {
		result.RenderInstructions.Keeps = append(result.RenderInstructions.Keeps, k.Span())
	}
	for _, r := range merged {
		result.RenderInstructions.Cuts = append(result.RenderInstructions.Cuts, r.Span())
	}
	if len(discarded) > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d segment(s) discarded during validation", len(discarded)))
	}
	if len(valid) > len(merged) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d overlapping segment(s) merged", len(valid)-len(merged)))
	}

	a.logger.Info("timeline assembled",
		logging.String(logging.FieldEventType, "timeline_assembled"),
		logging.Int("segments_removed", len(merged)),
		logging.Int("segments_kept", len(keeps)),
		logging.Float64("final_duration", result.Summary.FinalDuration),
		logging.Float64("reduction_percentage", result.Summary.ReductionPercentage),
	)

	if len(keeps) == 0 {
		result.Warnings = append(result.Warnings, "remove segments cover the entire video")
		return result, ErrNothingToKeep
	}
	return result, nil
}

// Validate drops malformed segments and clamps out-of-range ones to
// [0, duration]. Surviving segments are sorted by start time.
func Validate(segments []Segment, duration float64) ([]Segment, []Discard) {
	return (&Assembler{}).validate(segments, duration)
}

func (a *Assembler) validate(segments []Segment, duration float64) ([]Segment, []Discard) {
	valid := make([]Segment, 0, len(segments))
	var discarded []Discard
	drop := func(s Segment, reason string) {
		discarded = append(discarded, Discard{Segment: s, Reason: reason})
	}
	for _, s := range segments {
		switch {
		case !finite(s.StartTime) || !finite(s.EndTime):
			drop(s, "non-numeric time")
			continue
		case s.StartTime >= s.EndTime:
			drop(s, "start time is not before end time")
			continue
		case s.StartTime >= duration:
			drop(s, "starts after the end of the video")
			continue
		case s.EndTime <= 0:
			drop(s, "ends before the start of the video")
			continue
		case a.minConfidence > 0 && s.Confidence > 0 && s.Confidence < a.minConfidence:
			drop(s, fmt.Sprintf("confidence %.2f below threshold %.2f", s.Confidence, a.minConfidence))
			continue
		}
		if s.StartTime < 0 {
			s.StartTime = 0
		}
		if s.EndTime > duration {
			s.EndTime = duration
		}
		s.Duration = s.EndTime - s.StartTime
		if s.Duration <= 0 {
			drop(s, "non-positive duration")
			continue
		}
		s.Action = ActionRemove
		valid = append(valid, s)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].StartTime == valid[j].StartTime {
			return valid[i].EndTime < valid[j].EndTime
		}
		return valid[i].StartTime < valid[j].StartTime
	})
	return valid, discarded
}

// Merge resolves overlaps in segments sorted by start time. Touching segments
// (next.start == current.end) are merged. The result is sorted and pairwise
// disjoint.
func Merge(sorted []Segment) []Segment {
	merged := make([]Segment, 0, len(sorted))
	for _, s := range sorted {
		if n := len(merged); n > 0 && s.StartTime <= merged[n-1].EndTime {
			cur := &merged[n-1]
			if s.EndTime > cur.EndTime {
				cur.EndTime = s.EndTime
			}
			cur.Reason = joinReasons(cur.Reason, s.Reason)
			if s.Confidence > cur.Confidence {
				cur.Confidence = s.Confidence
			}
			cur.Severity = higherSeverity(cur.Severity, s.Severity)
			if cur.Category == "" {
				cur.Category = s.Category
			}
			cur.Duration = cur.EndTime - cur.StartTime
			continue
		}
		s.Action = ActionRemove
		s.Duration = s.EndTime - s.StartTime
		merged = append(merged, s)
	}
	for i := range merged {
		merged[i].ID = fmt.Sprintf("remove-%03d", i)
	}
	return merged
}

// Invert returns the complement of disjoint, sorted removes within [0, duration).
func Invert(removes []Segment, duration float64) []Segment {
	var keeps []Segment
	cursor := 0.0
	emit := func(start, end float64) {
		keeps = append(keeps, Segment{
			ID:        fmt.Sprintf("keep-%03d", len(keeps)),
			StartTime: start,
			EndTime:   end,
			Duration:  end - start,
			Action:    ActionKeep,
		})
	}
	for _, r := range removes {
		if r.StartTime > cursor {
			emit(cursor, r.StartTime)
		}
		if r.EndTime > cursor {
			cursor = r.EndTime
		}
	}
	if cursor < duration {
		emit(cursor, duration)
	}
	return keeps
}

// Summarize totals keep and remove durations. The reduction percentage is
// rounded to two decimals.
func Summarize(keeps, removes []Segment, duration float64) Summary {
	var kept, removed float64
	for _, k := range keeps {
		kept += k.Duration
	}
	for _, r := range removes {
		removed += r.Duration
	}
	summary := Summary{
		OriginalDuration: duration,
		FinalDuration:    round(kept, 3),
		TimeReduction:    round(removed, 3),
		SegmentsKept:     len(keeps),
		SegmentsRemoved:  len(removes),
	}
	if duration > 0 {
		summary.ReductionPercentage = round(removed/duration*100, 2)
	}
	return summary
}

func interleave(keeps, removes []Segment) []Segment {
	out := make([]Segment, 0, len(keeps)+len(removes))
	out = append(out, keeps...)
	out = append(out, removes...)
	// Ties on start order by end, then keep before remove, so the result does
	// not depend on input order.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.EndTime != b.EndTime {
			return a.EndTime < b.EndTime
		}
		return a.Action == ActionKeep && b.Action != ActionKeep
	})
	return out
}

func joinReasons(current, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return current
	}
	if current == "" {
		return next
	}
	for _, r := range strings.Split(current, "; ") {
		if r == next {
			return current
		}
	}
	return current + "; " + next
}
