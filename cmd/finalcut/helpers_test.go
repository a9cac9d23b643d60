package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finalcut/internal/api"
	"finalcut/internal/config"
	"finalcut/internal/logging"
	"finalcut/internal/queue"
	"finalcut/internal/testsupport"
	"finalcut/internal/workflow"
)

type fixedStatus struct {
	summary workflow.StatusSummary
}

func (f fixedStatus) Status(context.Context) workflow.StatusSummary { return f.summary }

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	configPath string
	apiURL     string
	baseDir    string
}

// setupCLITestEnv writes a config file and serves the job API from an
// httptest server backed by the same database the CLI would open offline.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))

	store := testsupport.MustOpenStore(t, cfg)
	svc := api.NewJobService(store, api.WithDefaultPriority(cfg.Pipeline.DefaultPriority))
	status := fixedStatus{summary: workflow.StatusSummary{Running: true}}
	srv := httptest.NewServer(api.NewServer(svc, status, logging.NewNop(), 5*time.Second).Handler())
	t.Cleanup(srv.Close)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		configPath: configPath,
		apiURL:     srv.URL,
		baseDir:    base,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nwork_dir = %q\nlog_dir = %q\n\n[database]\npath = %q\n\n[storage]\nlocal_dir = %q\n\n[llm]\napi_key = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.WorkDir,
		cfg.Paths.LogDir,
		cfg.Database.Path,
		cfg.Storage.LocalDir,
		cfg.LLM.APIKey,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if apiAddr != "" {
		flags = append(flags, "--api", apiAddr)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
