package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"finalcut/internal/config"
)

// ConfigOption adjusts a test configuration after the defaults are applied.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns config.Default rooted in a fresh temp directory: data,
// work, logs, and local objects live under it, workers poll every second,
// the API binds an ephemeral loopback port, and the LLM key is a placeholder.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.LocalDir = filepath.Join(base, "objects")
	cfg.Database.Path = filepath.Join(cfg.Paths.DataDir, "finalcut.db")
	cfg.API.Bind = "127.0.0.1:0"
	cfg.Workers.PollIntervalSeconds = 1
	cfg.Workers.ShutdownTimeoutSeconds = 2
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	return &cfg
}

// WithLLM points the analysis client at a test server.
func WithLLM(baseURL string) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.LLM.BaseURL = baseURL
	}
}

// WithRenderBackend points the render client at a test server and polls it
// every second.
func WithRenderBackend(baseURL string) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Render.BaseURL = baseURL
		cfg.Render.PollIntervalSeconds = 1
	}
}

// WithStubbedBinaries puts no-op ffmpeg and ffprobe scripts (or the named
// binaries) first on PATH for the duration of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, base string, cfg *config.Config) {
		t.Helper()
		if len(names) == 0 {
			names = []string{cfg.Chunking.FFmpegBinary, cfg.Pipeline.FFprobeBinary}
		}
		binDir := filepath.Join(base, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, filepath.Base(name)), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}
