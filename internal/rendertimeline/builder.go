// Package rendertimeline converts keep spans into frame-accurate clips for a
// render backend.
//
// Every boundary is snapped to the nearest frame (round(t*fps)/fps). Clips
// that would hold at most one frame are skipped, and output positions are the
// running sum of prior clip lengths. Validate re-checks output continuity and
// reports ErrDiscontinuity, which always indicates a build defect.
package rendertimeline

import (
	"errors"
	"fmt"
	"math"

	"finalcut/internal/timeline"
)

// ContinuityTolerance is the maximum output gap or overlap accepted between clips.
const ContinuityTolerance = 0.001

var (
	// ErrDiscontinuity reports a clip whose output start does not follow its predecessor.
	ErrDiscontinuity = errors.New("render clips are not continuous")
	// ErrInvalidFrameRate rejects non-positive or non-finite frame rates.
	ErrInvalidFrameRate = errors.New("invalid frame rate")
	// ErrNoClips is returned when every keep span is shorter than a frame.
	ErrNoClips = errors.New("no renderable clips")
)

// Clip is one source range placed on the output timeline.
type Clip struct {
	SourceStart  float64 `json:"source_start"`
	SourceEnd    float64 `json:"source_end"`
	OutputStart  float64 `json:"output_start"`
	OutputLength float64 `json:"output_length"`
}

// Snap rounds t to the nearest frame boundary.
func Snap(t, fps float64) float64 {
	return math.Round(t*fps) / fps
}

// Build snaps keeps (in time order) to frames and lays them end to end.
func Build(keeps []timeline.Span, fps float64) ([]Clip, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrameRate, fps)
	}
	clips := make([]Clip, 0, len(keeps))
	var cursor float64
	for _, keep := range keeps {
		// Compare whole frames; snapped float lengths carry rounding noise.
		if math.Round(keep.End*fps)-math.Round(keep.Start*fps) <= 1 {
			continue
		}
		start := Snap(keep.Start, fps)
		end := Snap(keep.End, fps)
		length := end - start
		clips = append(clips, Clip{
			SourceStart:  start,
			SourceEnd:    end,
			OutputStart:  cursor,
			OutputLength: length,
		})
		cursor += length
	}
	if len(clips) == 0 {
		return nil, ErrNoClips
	}
	if err := Validate(clips); err != nil {
		return nil, err
	}
	return clips, nil
}

// Validate asserts clip[0] starts at zero and each clip begins where the
// previous one ends, within ContinuityTolerance.
func Validate(clips []Clip) error {
	if len(clips) == 0 {
		return nil
	}
	if math.Abs(clips[0].OutputStart) > ContinuityTolerance {
		return fmt.Errorf("%w: first clip starts at %.6f", ErrDiscontinuity, clips[0].OutputStart)
	}
	for i := 1; i < len(clips); i++ {
		want := clips[i-1].OutputStart + clips[i-1].OutputLength
		if diff := clips[i].OutputStart - want; math.Abs(diff) > ContinuityTolerance {
			return fmt.Errorf("%w: clip %d starts at %.6f, expected %.6f", ErrDiscontinuity, i, clips[i].OutputStart, want)
		}
	}
	return nil
}

// TotalLength returns the output duration of clips.
func TotalLength(clips []Clip) float64 {
	if len(clips) == 0 {
		return 0
	}
	last := clips[len(clips)-1]
	return last.OutputStart + last.OutputLength
}
