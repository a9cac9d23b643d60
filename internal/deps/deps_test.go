package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"finalcut/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\necho \"present version 1.2\"\necho extra\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present, VersionFlag: "-version"},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
		{Name: "Unset"},
	}

	results := CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Version != "present version 1.2" {
		t.Fatalf("unexpected version %q", results[0].Version)
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[3].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[3].Detail)
	}

	missing := Missing(results)
	if len(missing) != 2 || missing[0].Name != "Missing" || missing[1].Name != "Unset" {
		t.Fatalf("unexpected missing set: %#v", missing)
	}
}

func TestPipelineRequirementsUseConfiguredBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.FFprobeBinary = "/opt/ffprobe"
	cfg.Chunking.FFmpegBinary = "/opt/ffmpeg"

	reqs := PipelineRequirements(cfg)
	if len(reqs) != 2 || reqs[0].Command != "/opt/ffprobe" || reqs[1].Command != "/opt/ffmpeg" {
		t.Fatalf("unexpected requirements: %#v", reqs)
	}
}
