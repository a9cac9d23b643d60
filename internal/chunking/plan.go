package chunking

import (
	"errors"
	"math"
)

// Span is one planned chunk.
type Span struct {
	Index int
	Start float64
	End   float64
}

// Duration returns End-Start.
func (s Span) Duration() float64 { return s.End - s.Start }

// Plan slices [0, duration) into chunks of at most chunk seconds. A trailing
// remainder shorter than minTail is folded into the previous chunk.
func Plan(duration, chunk, minTail float64) ([]Span, error) {
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return nil, errors.New("duration must be positive")
	}
	if math.IsNaN(chunk) || chunk <= 0 {
		return nil, errors.New("chunk duration must be positive")
	}
	var spans []Span
	for start := 0.0; start < duration; start += chunk {
		end := math.Min(start+chunk, duration)
		spans = append(spans, Span{Index: len(spans), Start: start, End: end})
	}
	if n := len(spans); n > 1 && spans[n-1].Duration() < minTail {
		spans[n-2].End = duration
		spans = spans[:n-1]
	}
	return spans, nil
}
