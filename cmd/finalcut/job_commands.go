package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"finalcut/internal/api"
	"finalcut/internal/config"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Create and manage pipeline jobs",
	}
	jobCmd.AddCommand(newJobAddCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobRetryCommand(ctx))
	jobCmd.AddCommand(newJobRenderCommand(ctx))
	jobCmd.AddCommand(newJobLogsCommand(ctx))
	jobCmd.AddCommand(newJobTimelineCommand(ctx))
	return jobCmd
}

func newJobAddCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateJobRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "add <video>",
		Short: "Queue a video for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := resolveSource(args[0])
			if err != nil {
				return err
			}
			req.SourcePath = source
			if strings.TrimSpace(req.OriginalName) == "" {
				req.OriginalName = filepath.Base(source)
			}
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				job, err := jobs.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s)\n", job.ID, job.OriginalName)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.OriginalName, "name", "", "Display name (defaults to the file name)")
	flags.IntVar(&req.Priority, "priority", 0, "Queue priority, higher runs first")
	flags.IntVar(&req.MaxRetries, "max-retries", 0, "Retries per stage (0 uses the stage default)")
	flags.Float64Var(&req.ChunkDurationSeconds, "chunk-duration", 0, "Chunk length in seconds")
	flags.StringVar(&req.AnalysisModel, "model", "", "Analysis model override")
	flags.Float64Var(&req.MinConfidence, "min-confidence", 0, "Drop remove segments below this confidence (0-1)")
	flags.Float64Var(&req.FPSOverride, "fps", 0, "Frame rate override for rendering")
	flags.StringVar(&req.RenderQuality, "quality", "", "Render quality: low, medium, high")
	flags.StringVar(&req.RenderResolution, "resolution", "", "Render resolution, e.g. 1080p")
	flags.IntVar(&req.MaxFileSizeMB, "max-size-mb", 0, "Reject sources larger than this")
	flags.BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				list, err := jobs.List(cmd.Context(), statuses, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				printTable(cmd.OutOrStdout(),
					[]string{"ID", "Name", "Status", "Stage", "Progress", "Created"},
					buildJobListRows(list), 4)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				resp, err := jobs.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderJobDetail(cmd.OutOrStdout(), resp, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				job, err := jobs.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newJobRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed or cancelled job from its last stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				job, err := jobs.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued at %s\n", job.ID, stageDisplay(job))
				return nil
			})
		},
	}
}

func newJobRenderCommand(ctx *commandContext) *cobra.Command {
	var req api.RenderRequest
	cmd := &cobra.Command{
		Use:   "render <id>",
		Short: "Render the cut video for a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				job, err := jobs.Render(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Render queued for job %s\n", job.ID)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&req.FPS, "fps", 0, "Output frame rate")
	cmd.Flags().StringVar(&req.Resolution, "resolution", "", "Output resolution, e.g. 1080p")
	cmd.Flags().StringVar(&req.Quality, "quality", "", "Output quality: low, medium, high")
	return cmd
}

func newJobLogsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show a job's persisted log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				resp, err := jobs.Logs(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No log entries")
					return nil
				}
				for _, entry := range resp.Entries {
					fmt.Fprintln(out, formatLogEntry(entry))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum lines")
	return cmd
}

func newJobTimelineCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var all bool
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Show the assembled cut timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(jobs jobAPI) error {
				resp, err := jobs.Timeline(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderTimeline(cmd.OutOrStdout(), resp, all)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "Include kept segments")
	return cmd
}

// resolveSource expands and checks a local source path.
func resolveSource(arg string) (string, error) {
	path, err := config.ExpandPath(strings.TrimSpace(arg))
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("inspect source %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %q is a directory", abs)
	}
	return abs, nil
}
