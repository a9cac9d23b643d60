package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, logging.Options{})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon starting")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "finalcut.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon starting") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestNewFromConfigOverridesLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "info"
	logPath := filepath.Join(t.TempDir(), "run.log")

	logger, err := logging.NewFromConfig(&cfg, logging.Options{Level: "debug", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("claim loop idle")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "DEBUG") || !strings.Contains(string(content), "claim loop idle") {
		t.Fatalf("expected debug line, got %q", content)
	}
}

func TestConsoleLoggerRendersJobSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "0f4c1d2e-aaaa-bbbb-cccc-1234567890ab")
	ctx = services.WithStage(ctx, "split_chunks")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "worker")).Info("chunk extracted",
		logging.Int(logging.FieldChunkIndex, 3),
		logging.String("path", "/tmp/a b.mp4"),
		slog.Group("media", slog.Float64("duration", 61.5)),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, fragment := range []string{
		"INFO  [worker] job 0f4c1d2e split_chunks#3: chunk extracted",
		`path="/tmp/a b.mp4"`,
		"media.duration=61.5",
	} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestJSONLoggerUsesCanonicalKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("lease expired", logging.String(logging.FieldQueueID, "q-1"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if record["msg"] != "lease expired" || record["level"] != "warn" || record["queue_id"] != "q-1" {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key in %#v", record)
	}
}

func TestNewRejectsUnknownFormatAndLevel(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if _, err := logging.New(logging.Options{Level: "verbose"}); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

func TestJSONLoggerWritesDurationsAsSeconds(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("stage completed", logging.Duration("elapsed", 1500*time.Millisecond), logging.Error(nil))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if record["elapsed"] != 1.5 {
		t.Fatalf("expected elapsed=1.5, got %#v", record["elapsed"])
	}
	if _, ok := record["error"]; ok {
		t.Fatalf("nil error should be dropped, got %#v", record)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "memory high", "memory_warning")
	logging.WarnWithContext(nil, "ignored", "noop")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldEventType] != "memory_warning" {
		t.Fatalf("expected event type to be injected, got %#v", record)
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatalf("expected error hint to be injected, got %#v", record)
	}
}
