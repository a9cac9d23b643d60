package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDaemonLogsShowsTail(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"daemon", "logs"}, "", env.configPath)
	if err != nil {
		t.Fatalf("daemon logs: %v", err)
	}
	requireContains(t, out, "No log entries")

	path := filepath.Join(env.cfg.Paths.LogDir, "finalcut.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, _, err = runCLI(t, []string{"daemon", "logs", "-n", "2"}, "", env.configPath)
	if err != nil {
		t.Fatalf("daemon logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected tail %q", out)
	}
}
