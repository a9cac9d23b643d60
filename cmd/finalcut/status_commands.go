package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"finalcut/internal/api"
	"finalcut/internal/preflight"
	"finalcut/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var network bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dependency checks, daemon, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("System Checks", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range preflight.RunAll(cmd.Context(), cfg, preflight.Options{Network: network}) {
				fmt.Fprintln(out, renderStatusLine(r.Name, preflightKind(r), r.Detail, colorize))
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			if !ctx.daemonReachable(cmd.Context()) {
				fmt.Fprintln(out, renderStatusLine("API", statusWarn, "not reachable at "+ctx.apiAddress(), colorize))
				fmt.Fprintln(out)
				return renderOfflineQueue(cmd.Context(), out, ctx, colorize)
			}
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			renderWorkflowStatus(out, status, colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&network, "network", false, "Also probe the LLM endpoint, render backend, and redis")
	return cmd
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the work queue",
	}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show job and queue item counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if ctx.daemonReachable(cmd.Context()) {
				status, err := ctx.client().Status(cmd.Context())
				if err != nil {
					return err
				}
				renderCounts(out, status.JobCounts, status.ItemCounts)
				return nil
			}
			return renderOfflineQueue(cmd.Context(), out, ctx, false)
		},
	})
	return queueCmd
}

func renderOfflineQueue(ctx context.Context, out io.Writer, cc *commandContext, colorize bool) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	jobs := make(map[string]int, len(stats.Jobs))
	for status, n := range stats.Jobs {
		jobs[string(status)] = n
	}
	items := make(map[string]int, len(stats.Items))
	for st, n := range stats.Items {
		items[string(st)] = n
	}
	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	renderCounts(out, jobs, items)
	if stats.ExpiredClaims > 0 {
		fmt.Fprintln(out, renderStatusLine("Expired claims", statusWarn, fmt.Sprintf("%d", stats.ExpiredClaims), colorize))
	}
	return nil
}

func renderWorkflowStatus(out io.Writer, status api.WorkflowStatus, colorize bool) {
	kind := statusOK
	detail := "running"
	if !status.Running {
		kind, detail = statusWarn, "stopped"
	}
	fmt.Fprintln(out, renderStatusLine("Workflow", kind, detail, colorize))
	if status.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.LastError, colorize))
	}
	for _, h := range status.StageHealth {
		kind := statusOK
		if !h.Ready {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(h.Name, kind, h.Detail, colorize))
	}
	fmt.Fprintln(out)

	if len(status.Workers) > 0 {
		rows := make([][]string, 0, len(status.Workers))
		for _, w := range status.Workers {
			rows = append(rows, []string{
				w.Stage,
				fmt.Sprintf("%d/%d", w.ActiveJobs, w.Concurrency),
				fmt.Sprintf("%d", w.JobsProcessed),
				fmt.Sprintf("%d", w.JobsFailed),
				fmt.Sprintf("%d", w.JobsReleased),
				relativeTime(w.LastPoll),
			})
		}
		printTable(out, []string{"Stage", "Active", "Done", "Failed", "Deferred", "Last poll"}, rows, 1, 2, 3, 4)
	}
	renderCounts(out, status.JobCounts, status.ItemCounts)
}

func renderCounts(out io.Writer, jobs, items map[string]int) {
	if len(jobs) == 0 && len(items) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	statuses := make([]string, 0, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		statuses = append(statuses, string(status))
	}
	if rows := buildCountRows(jobs, statuses); len(rows) > 0 {
		printTable(out, []string{"Job status", "Count"}, rows, 1)
	}
	stages := make([]string, 0, len(queue.Stages()))
	for _, st := range queue.Stages() {
		stages = append(stages, string(st))
	}
	if rows := buildCountRows(items, stages); len(rows) > 0 {
		printTable(out, []string{"Pending stage", "Count"}, rows, 1)
	}
}

// buildCountRows lists non-zero counts in order, then any unknown keys sorted.
func buildCountRows(counts map[string]int, order []string) [][]string {
	rows := make([][]string, 0, len(counts))
	seen := make(map[string]bool, len(order))
	for _, key := range order {
		seen[key] = true
		if n := counts[key]; n > 0 {
			rows = append(rows, []string{key, fmt.Sprintf("%d", n)})
		}
	}
	var extra []string
	for key, n := range counts {
		if !seen[key] && n > 0 {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{key, fmt.Sprintf("%d", counts[key])})
	}
	return rows
}
