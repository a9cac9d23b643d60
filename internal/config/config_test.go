package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"finalcut/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "finalcut")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "finalcut.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Database.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Database.Driver)
	}
	if cfg.Storage.Backend != config.StorageLocal {
		t.Fatalf("expected local storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.PollInterval())
	}
	if cfg.ShutdownTimeout() != 30*time.Second {
		t.Fatalf("unexpected shutdown timeout %s", cfg.ShutdownTimeout())
	}
}

func TestStageWorkerLeases(t *testing.T) {
	cfg := config.Default()
	render, ok := cfg.StageWorker("render_video")
	if !ok {
		t.Fatal("expected render_video settings")
	}
	split, _ := cfg.StageWorker("split_chunks")
	if render.Lease() <= split.Lease() {
		t.Fatalf("render lease %s should exceed cpu lease %s", render.Lease(), split.Lease())
	}
	if render.Lease() < time.Hour {
		t.Fatalf("render lease should be measured in hours, got %s", render.Lease())
	}
	if _, ok := cfg.StageWorker("transcode"); ok {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FINALCUT_LLM_API_KEY", "env-key")
	t.Setenv("FINALCUT_RENDER_API_KEY", "render-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "finalcut.toml")
	raw := `
[llm]
api_key = "file-key"
model = "google/gemini-2.5-pro"

[workers.gemini_processing]
concurrency = 4
lease_minutes = 45
max_retries = 2
retry_delay_seconds = 5

[analysis]
timestamp_format = "MSF"
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Fatalf("expected environment to override api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "google/gemini-2.5-pro" {
		t.Fatalf("unexpected model %q", cfg.LLM.Model)
	}
	if cfg.Render.APIKey != "render-key" {
		t.Fatalf("unexpected render key %q", cfg.Render.APIKey)
	}
	if cfg.Analysis.TimestampFormat != "msf" {
		t.Fatalf("expected timestamp format to be normalized, got %q", cfg.Analysis.TimestampFormat)
	}
	w, _ := cfg.StageWorker("gemini_processing")
	if w.Concurrency != 4 || w.Lease() != 45*time.Minute || w.RetryDelay() != 5*time.Second {
		t.Fatalf("unexpected gemini worker settings %+v", w)
	}
	upload, _ := cfg.StageWorker("upload")
	if upload.Concurrency != config.Default().Workers.Upload.Concurrency {
		t.Fatalf("expected untouched stages to keep defaults, got %+v", upload)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"postgres without dsn", func(c *config.Config) { c.Database.Driver = config.DriverPostgres }, "database.dsn"},
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"zero poll", func(c *config.Config) { c.Workers.PollIntervalSeconds = 0 }, "workers.poll_interval_seconds"},
		{"zero lease", func(c *config.Config) { c.Workers.RenderVideo.LeaseMinutes = 0 }, "workers.render_video.lease_minutes"},
		{"tail too long", func(c *config.Config) { c.Chunking.MinTailSeconds = 400 }, "chunking.min_tail_seconds"},
		{"confidence", func(c *config.Config) { c.Analysis.MinConfidence = 1.5 }, "analysis.min_confidence"},
		{"timestamp format", func(c *config.Config) { c.Analysis.TimestampFormat = "auto" }, "analysis.timestamp_format"},
		{"s3 without bucket", func(c *config.Config) { c.Storage.Backend = config.StorageS3 }, "storage.bucket"},
		{"memory", func(c *config.Config) { c.Memory.LimitMB = 0 }, "memory.limit_mb"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestDisabledStageSkipsPoolValidation(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.RenderVideo = config.StageWorker{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled stage to validate, got %v", err)
	}
}

func TestCreateSampleParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if decoded.Workers.RenderVideo.LeaseMinutes != 360 {
		t.Fatalf("unexpected render lease in sample: %d", decoded.Workers.RenderVideo.LeaseMinutes)
	}
}

func TestRedactedMasksCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-live"
	cfg.Storage.SecretAccessKey = "s3cret"
	cfg.Database.DSN = "postgres://u:p@db/finalcut"

	red := cfg.Redacted()
	if red.LLM.APIKey != "********" || red.Storage.SecretAccessKey != "********" || red.Database.DSN != "********" {
		t.Fatalf("expected secrets masked, got %+v", red)
	}
	if red.Render.APIKey != "" {
		t.Fatalf("empty secrets should stay empty, got %q", red.Render.APIKey)
	}
	if cfg.LLM.APIKey != "sk-live" {
		t.Fatal("Redacted must not modify the receiver")
	}
	data, err := toml.Marshal(red)
	if err != nil {
		t.Fatalf("marshal redacted config: %v", err)
	}
	if strings.Contains(string(data), "s3cret") {
		t.Fatalf("secret leaked into %s", data)
	}
}
