package preflight

import (
	"context"
	"fmt"
	"strings"

	"finalcut/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Optional bool   `json:"optional,omitempty"`
}

// Options selects the slower checks.
type Options struct {
	// Network enables the LLM, render backend, and Redis reachability checks.
	Network bool
}

// RunAll executes the applicable preflight checks for cfg.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results,
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	)
	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Object storage directory", cfg.Storage.LocalDir))
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		r := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
		switch {
		case status.Available && status.Version != "":
			r.Detail = status.Version
		case status.Available:
			r.Detail = status.Path
		default:
			r.Detail = status.Detail
		}
		results = append(results, r)
	}

	if !opts.Network {
		return results
	}
	results = append(results, CheckLLM(ctx, "Analysis LLM", cfg.LLM))
	if strings.TrimSpace(cfg.Render.BaseURL) != "" {
		results = append(results, CheckRender(ctx, cfg.Render))
	}
	if strings.TrimSpace(cfg.Events.RedisURL) != "" {
		results = append(results, CheckRedis(ctx, cfg.Events.RedisURL))
	}
	return results
}

// Failures returns the failed required checks.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err summarizes failed required checks as one error, or nil.
func Err(results []Result) error {
	failed := Failures(results)
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight checks failed: %s", strings.Join(parts, "; "))
}
