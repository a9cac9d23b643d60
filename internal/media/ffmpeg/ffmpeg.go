// Package ffmpeg runs ffmpeg to cut time ranges out of a source video.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Clip describes one extraction.
type Clip struct {
	Source   string
	Start    float64
	Duration float64
	Output   string
	// Reencode forces a re-encode for frame-exact boundaries; the default
	// stream copy cuts on keyframes.
	Reencode bool
}

// Extractor cuts clips.
type Extractor interface {
	Extract(ctx context.Context, clip Clip) error
}

// Command runs an ffmpeg binary.
type Command struct {
	Binary string
}

// Extract implements Extractor.
func (c Command) Extract(ctx context.Context, clip Clip) error {
	args, err := Args(clip)
	if err != nil {
		return err
	}
	binary := strings.TrimSpace(c.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg extract %s@%.3f: %w: %s", clip.Source, clip.Start, err, tail(stderr.String(), 512))
	}
	return nil
}

// Args builds the ffmpeg argument list for clip.
func Args(clip Clip) ([]string, error) {
	if strings.TrimSpace(clip.Source) == "" || strings.TrimSpace(clip.Output) == "" {
		return nil, errors.New("ffmpeg: source and output are required")
	}
	if clip.Start < 0 || clip.Duration <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid range start=%v duration=%v", clip.Start, clip.Duration)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", seconds(clip.Start),
		"-i", clip.Source,
		"-t", seconds(clip.Duration),
	}
	if clip.Reencode {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	}
	return append(args, clip.Output), nil
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
