package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"finalcut/internal/media/ffmpeg"
	"finalcut/internal/media/ffprobe"
)

// WriteVideo writes size bytes of filler to dir/name and returns the path.
// The content is not decodable; pair it with FakeProber and FakeExtractor.
func WriteVideo(t testing.TB, dir, name string, size int64) string {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// FakeProber answers every inspection with one H.264 stream.
type FakeProber struct {
	Duration float64
	FPS      string
	Err      error
}

// Inspect implements ffprobe.Prober.
func (p FakeProber) Inspect(_ context.Context, path string) (ffprobe.Result, error) {
	if p.Err != nil {
		return ffprobe.Result{}, p.Err
	}
	fps := p.FPS
	if fps == "" {
		fps = "30/1"
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return ffprobe.Result{
		Streams: []ffprobe.Stream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, RFrameRate: fps, AvgFrameRate: fps},
			{Index: 1, CodecType: "audio", CodecName: "aac"},
		},
		Format: ffprobe.Format{
			Filename:  path,
			NBStreams: 2,
			Duration:  strconv.FormatFloat(p.Duration, 'f', 3, 64),
			Size:      strconv.FormatInt(size, 10),
		},
	}, nil
}

// FakeExtractor writes a small file per clip and records what it was asked to cut.
type FakeExtractor struct {
	mu     sync.Mutex
	clips  []ffmpeg.Clip
	FailAt map[float64]error
}

// Extract implements ffmpeg.Extractor.
func (e *FakeExtractor) Extract(ctx context.Context, clip ffmpeg.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := e.FailAt[clip.Start]; ok {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(clip.Output), 0o755); err != nil {
		return err
	}
	body := fmt.Sprintf("%s %.3f+%.3f", clip.Source, clip.Start, clip.Duration)
	if err := os.WriteFile(clip.Output, []byte(body), 0o644); err != nil {
		return err
	}
	e.mu.Lock()
	e.clips = append(e.clips, clip)
	e.mu.Unlock()
	return nil
}

// Clips returns the successful extractions in call order.
func (e *FakeExtractor) Clips() []ffmpeg.Clip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ffmpeg.Clip(nil), e.clips...)
}
