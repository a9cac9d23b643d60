package deps

import (
	"finalcut/internal/config"
)

// PipelineRequirements lists the binaries the configured pipeline executes.
func PipelineRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFprobe",
			Command:     cfg.Pipeline.FFprobeBinary,
			Description: "Inspects uploads for duration and frame rate",
			VersionFlag: "-version",
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Chunking.FFmpegBinary,
			Description: "Cuts sources into analysis chunks",
			VersionFlag: "-version",
		},
	}
}
