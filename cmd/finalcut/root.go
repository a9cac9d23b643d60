package main

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	var configFlag string
	var apiFlag string

	ctx := newCommandContext(&configFlag, &apiFlag)

	rootCmd := &cobra.Command{
		Use:           "finalcut",
		Short:         "Find and cut filler from long videos",
		Long:          "finalcut splits a video into chunks, asks a vision model which spans to drop, assembles a cut timeline, and hands it to a render backend.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&apiFlag, "api", "", "Daemon API address (defaults to api.bind)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)
	for _, c := range []*cobra.Command{newJobCommand(ctx), newQueueCommand(ctx), newStatusCommand(ctx)} {
		c.GroupID = "pipeline"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newDaemonCommand(ctx), newConfigCommand(ctx)} {
		c.GroupID = "admin"
		rootCmd.AddCommand(c)
	}
	return rootCmd
}
