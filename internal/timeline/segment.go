package timeline

import (
	"fmt"
	"math"
	"strings"
)

// Action marks whether a segment is retained or cut.
type Action string

const (
	ActionKeep   Action = "keep"
	ActionRemove Action = "remove"
)

// Segment is a half-open interval [StartTime, EndTime) of the source video in seconds.
type Segment struct {
	ID         string  `json:"id"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Duration   float64 `json:"duration"`
	Action     Action  `json:"action"`
	Reason     string  `json:"reason,omitempty"`
	Category   string  `json:"category,omitempty"`
	Severity   string  `json:"severity,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// NewRemove builds a remove segment with its duration filled in.
func NewRemove(start, end float64, reason string) Segment {
	return Segment{StartTime: start, EndTime: end, Duration: end - start, Action: ActionRemove, Reason: reason}
}

// Span is a bare [Start, End) pair used in render instructions.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns End - Start.
func (s Span) Length() float64 { return s.End - s.Start }

// Span returns the segment bounds.
func (s Segment) Span() Span { return Span{Start: s.StartTime, End: s.EndTime} }

func (s Segment) String() string {
	return fmt.Sprintf("%s[%.3f-%.3f]", s.Action, s.StartTime, s.EndTime)
}

var severityRank = map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4}

func higherSeverity(a, b string) string {
	if severityRank[strings.ToLower(b)] > severityRank[strings.ToLower(a)] {
		return b
	}
	return a
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
