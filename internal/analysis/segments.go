package analysis

import (
	"fmt"
	"math"
	"strings"

	"finalcut/internal/timeline"
)

// Dropped describes a raw segment that could not be used.
type Dropped struct {
	Segment RawSegment
	Reason  string
}

// ToSegments converts chunk-relative raw segments into absolute remove
// segments. Unparseable or empty segments are dropped; ends past the chunk
// are clamped to it.
func ToSegments(raw []RawSegment, chunkStart, chunkDuration float64, format timeline.TimestampFormat, fps float64) ([]timeline.Segment, []Dropped) {
	var (
		out     []timeline.Segment
		dropped []Dropped
	)
	for _, r := range raw {
		start, err := timeline.ParseTimestamp(string(r.StartTime), format, fps)
		if err != nil {
			dropped = append(dropped, Dropped{Segment: r, Reason: err.Error()})
			continue
		}
		end, err := timeline.ParseTimestamp(string(r.EndTime), format, fps)
		if err != nil {
			dropped = append(dropped, Dropped{Segment: r, Reason: err.Error()})
			continue
		}
		if chunkDuration > 0 {
			end = math.Min(end, chunkDuration)
		}
		if start >= end {
			dropped = append(dropped, Dropped{Segment: r, Reason: fmt.Sprintf("start %.3f is not before end %.3f", start, end)})
			continue
		}
		seg := timeline.NewRemove(chunkStart+start, chunkStart+end, strings.TrimSpace(r.Reason))
		seg.Category = strings.ToLower(strings.TrimSpace(r.Category))
		seg.Severity = strings.ToLower(strings.TrimSpace(r.Severity))
		seg.Confidence = math.Max(0, math.Min(r.Confidence, 1))
		out = append(out, seg)
	}
	return out, dropped
}
