package daemonrun

import (
	"os"
	"path/filepath"
	"testing"

	"finalcut/internal/logging"
	"finalcut/internal/memory"
	"finalcut/internal/queue"
	"finalcut/internal/storage"
	"finalcut/internal/testsupport"
)

func TestBuildStagesCoversPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	objects, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	set, err := BuildStages(cfg, store, objects, memory.FromConfig(cfg, logging.NewNop()), logging.NewNop())
	if err != nil {
		t.Fatalf("BuildStages: %v", err)
	}
	handlers := set.Handlers()
	if len(handlers) != len(queue.Stages()) {
		t.Fatalf("expected %d handlers, got %d", len(queue.Stages()), len(handlers))
	}
	for i, st := range queue.Stages() {
		if handlers[i].Stage() != st {
			t.Fatalf("handler %d serves %s, want %s", i, handlers[i].Stage(), st)
		}
	}
}

func TestBuildStagesRejectsTimestampFormat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Analysis.TimestampFormat = "frames"
	store := testsupport.MustOpenStore(t, cfg)
	objects, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if _, err := BuildStages(cfg, store, objects, nil, logging.NewNop()); err == nil {
		t.Fatal("expected unknown timestamp format to fail")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := PIDPath(cfg)
	if ReadPID(path) != 0 {
		t.Fatal("missing pid file should read as 0")
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	if got := ReadPID(path); got != os.Getpid() {
		t.Fatalf("ReadPID = %d, want %d", got, os.Getpid())
	}
	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ReadPID(path) != 0 {
		t.Fatal("malformed pid should read as 0")
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "finalcut-1.log")
	second := filepath.Join(dir, "finalcut-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "finalcut.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "finalcut-2.log" {
		t.Fatalf("pointer should follow the latest log, got %q", data)
	}
}
