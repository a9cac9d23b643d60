package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"finalcut/internal/api"
)

func buildJobListRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			jobName(job),
			job.Status,
			stageDisplay(job),
			fmt.Sprintf("%.0f%%", job.ProgressPercentage),
			relativeTime(job.CreatedAt),
		})
	}
	return rows
}

func jobName(job api.Job) string {
	if name := strings.TrimSpace(job.OriginalName); name != "" {
		return name
	}
	return job.SourcePath
}

func stageDisplay(job api.Job) string {
	if job.StageLabel != "" {
		return job.StageLabel
	}
	if job.CurrentStage != "" {
		return job.CurrentStage
	}
	return "-"
}

func relativeTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// formatSeconds renders seconds as H:MM:SS.s or M:SS.s.
func formatSeconds(value float64) string {
	if math.IsNaN(value) || value < 0 {
		return "-"
	}
	whole := int(value)
	tenths := int(math.Round((value - float64(whole)) * 10))
	if tenths == 10 {
		whole++
		tenths = 0
	}
	h, m, s := whole/3600, (whole%3600)/60, whole%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%d", h, m, s, tenths)
	}
	return fmt.Sprintf("%d:%02d.%d", m, s, tenths)
}

func renderJobDetail(out io.Writer, resp api.JobResponse, colorize bool) {
	job := resp.Job
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Name", statusInfo, jobName(job), colorize))
	fmt.Fprintln(out, renderStatusLine("Source", statusInfo, job.SourcePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), job.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, fmt.Sprintf("%s (%.0f%%)", stageDisplay(job), job.ProgressPercentage), colorize))
	fmt.Fprintln(out, renderStatusLine("Priority", statusInfo, fmt.Sprintf("%d", job.Priority), colorize))
	fmt.Fprintln(out, renderStatusLine("Retries", statusInfo, fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries), colorize))
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, relativeTime(job.CreatedAt), colorize))
	if job.LastError != "" {
		detail := job.LastError
		if job.ErrorCategory != "" {
			detail = fmt.Sprintf("%s (%s)", job.LastError, job.ErrorCategory)
		}
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, detail, colorize))
		for _, action := range job.RecoveryActions {
			fmt.Fprintln(out, statusIndent+"  - "+action)
		}
	}
	if job.Live != nil {
		fmt.Fprintln(out, renderStatusLine("Elapsed", statusInfo, job.Live.Elapsed.Round(time.Second).String(), colorize))
		if job.Live.EstimatedRemaining > 0 {
			fmt.Fprintln(out, renderStatusLine("Remaining", statusInfo, "~"+job.Live.EstimatedRemaining.Round(time.Second).String(), colorize))
		}
	}

	result := job.Result
	if result.Upload != nil || result.Chunks != nil || result.Analysis != nil || result.Timeline != nil || result.Render != nil {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Results", colorize) {
			fmt.Fprintln(out, line)
		}
	}
	if u := result.Upload; u != nil {
		fmt.Fprintln(out, renderStatusLine("Source media", statusOK,
			fmt.Sprintf("%s, %s, %.3g fps, %dx%d %s", formatSeconds(u.Duration), humanize.IBytes(uint64(max(u.SizeBytes, 0))), u.FPS, u.Width, u.Height, u.VideoCodec), colorize))
	}
	if c := result.Chunks; c != nil {
		fmt.Fprintln(out, renderStatusLine("Chunks", statusOK, fmt.Sprintf("%d x %s", c.Count, formatSeconds(c.ChunkDuration)), colorize))
	}
	if s := result.Storage; s != nil {
		fmt.Fprintln(out, renderStatusLine("Stored", statusOK, fmt.Sprintf("%d chunks, %s", s.Stored, humanize.IBytes(uint64(max(s.BytesTotal, 0)))), colorize))
	}
	if a := result.Analysis; a != nil {
		fmt.Fprintln(out, renderStatusLine("Analysis", statusOK, fmt.Sprintf("%d chunks, %d segments (%s)", a.ChunksAnalyzed, a.SegmentsFound, a.Model), colorize))
	}
	if t := result.Timeline; t != nil {
		sum := t.Summary
		fmt.Fprintln(out, renderStatusLine("Timeline", statusOK,
			fmt.Sprintf("%s -> %s (-%.1f%%), %d cuts", formatSeconds(sum.OriginalDuration), formatSeconds(sum.FinalDuration), sum.ReductionPercentage, sum.SegmentsRemoved), colorize))
	}
	if r := result.Render; r != nil {
		kind := statusInfo
		detail := r.State
		switch {
		case r.Error != "":
			kind, detail = statusError, r.State+": "+r.Error
		case r.OutputURL != "":
			kind, detail = statusOK, r.OutputURL
		}
		fmt.Fprintln(out, renderStatusLine("Render", kind, detail, colorize))
	}

	if len(resp.Items) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(resp.Items))
		for _, item := range resp.Items {
			worker := "-"
			switch {
			case item.Claimed:
				worker = item.WorkerID
			case item.WorkerID != "":
				worker = item.WorkerID + " (expired)"
			}
			rows = append(rows, []string{item.Stage, worker, fmt.Sprintf("%d/%d", item.Attempts, item.MaxAttempts), relativeTime(item.NextAttempt)})
		}
		printTable(out, []string{"Stage", "Worker", "Attempts", "Next attempt"}, rows, 2)
	}
}

func jobStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func formatLogEntry(entry api.LogEntry) string {
	stage := entry.Stage
	if stage == "" {
		stage = "-"
	}
	return fmt.Sprintf("%s %-5s [%s] %s", entry.Timestamp, strings.ToUpper(entry.Level), stage, entry.Message)
}

func renderTimeline(out io.Writer, resp api.TimelineResponse, all bool) {
	tl := resp.Timeline
	if tl == nil {
		fmt.Fprintln(out, "No timeline")
		return
	}
	segments := tl.SegmentsToRemove
	if all {
		segments = tl.Segments
	}
	sum := tl.Summary
	fmt.Fprintf(out, "Original %s, final %s, removed %s (%.1f%%)\n",
		formatSeconds(sum.OriginalDuration), formatSeconds(sum.FinalDuration), formatSeconds(sum.TimeReduction), sum.ReductionPercentage)
	if len(segments) == 0 {
		fmt.Fprintln(out, "Nothing to cut")
		return
	}
	rows := make([][]string, 0, len(segments))
	for _, seg := range segments {
		confidence := "-"
		if seg.Confidence > 0 {
			confidence = fmt.Sprintf("%.2f", seg.Confidence)
		}
		rows = append(rows, []string{
			string(seg.Action),
			formatSeconds(seg.StartTime),
			formatSeconds(seg.EndTime),
			formatSeconds(seg.Duration),
			seg.Category,
			confidence,
			seg.Reason,
		})
	}
	printTable(out, []string{"Action", "Start", "End", "Length", "Category", "Conf", "Reason"}, rows, 1, 2, 3, 5)
	for _, warning := range tl.Warnings {
		fmt.Fprintln(out, "warning: "+warning)
	}
}

