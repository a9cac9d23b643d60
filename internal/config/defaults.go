package config

const (
	StorageLocal = "local"
	StorageS3    = "s3"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultDataDir                = "~/.local/share/finalcut"
	defaultWorkDir                = "~/.local/share/finalcut/work"
	defaultLogDir                 = "~/.local/share/finalcut/logs"
	defaultStorageDir             = "~/.local/share/finalcut/objects"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultPollIntervalSeconds    = 5
	defaultShutdownTimeoutSeconds = 30
	defaultCPULeaseMinutes        = 10
	defaultAnalysisLeaseMinutes   = 30
	defaultRenderLeaseMinutes     = 360
	defaultMaxRetries             = 3
	defaultRetryDelaySeconds      = 60
	defaultChunkDurationSeconds   = 300
	defaultMinTailSeconds         = 30
	defaultMaxFileSizeMB          = 4096
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMReferer             = "https://github.com/finalcut/finalcut"
	defaultLLMTitle               = "finalcut analysis"
	defaultLLMTimeoutSeconds      = 120
	defaultMinConfidence          = 0.5
	defaultTimestampFormat        = "hms"
	defaultRenderTimeoutSeconds   = 30
	defaultRenderPollSeconds      = 15
	defaultRenderQuality          = "high"
	defaultRenderResolution       = "1080p"
	defaultRenderFPS              = 30
	defaultPresignMinutes         = 120
	defaultUploadConcurrency      = 4
	defaultMemoryLimitMB          = 2048
	defaultGCThresholdPercent     = 80
	defaultMinGCIntervalSeconds   = 30
	defaultRedisChannel           = "finalcut:events"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultAPIRequestTimeout      = 30
	defaultPurgeSchedule          = "@daily"
	defaultRetentionDays          = 14
	defaultClaimReportSchedule    = "@every 5m"
)

func cpuStage(concurrency int) StageWorker {
	return StageWorker{
		Concurrency:       concurrency,
		LeaseMinutes:      defaultCPULeaseMinutes,
		MaxRetries:        defaultMaxRetries,
		RetryDelaySeconds: defaultRetryDelaySeconds,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	analysis := cpuStage(2)
	analysis.LeaseMinutes = defaultAnalysisLeaseMinutes
	render := cpuStage(1)
	render.LeaseMinutes = defaultRenderLeaseMinutes

	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Database: Database{
			Driver: DriverSQLite,
		},
		Workers: Workers{
			PollIntervalSeconds:    defaultPollIntervalSeconds,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
			Upload:                 cpuStage(2),
			SplitChunks:            cpuStage(1),
			StoreChunks:            cpuStage(2),
			QueueAnalysis:          cpuStage(1),
			GeminiProcessing:       analysis,
			AssembleTimeline:       cpuStage(1),
			RenderVideo:            render,
		},
		Pipeline: Pipeline{
			MaxFileSizeMB:     defaultMaxFileSizeMB,
			AllowedExtensions: []string{".mp4", ".mov", ".mkv", ".webm", ".avi"},
			FFprobeBinary:     "ffprobe",
		},
		Chunking: Chunking{
			ChunkDurationSeconds: defaultChunkDurationSeconds,
			MinTailSeconds:       defaultMinTailSeconds,
			FFmpegBinary:         "ffmpeg",
			Parallelism:          2,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Analysis: Analysis{
			MinConfidence:   defaultMinConfidence,
			TimestampFormat: defaultTimestampFormat,
			Parallelism:     2,
		},
		Render: Render{
			TimeoutSeconds:      defaultRenderTimeoutSeconds,
			PollIntervalSeconds: defaultRenderPollSeconds,
			Quality:             defaultRenderQuality,
			Resolution:          defaultRenderResolution,
			DefaultFPS:          defaultRenderFPS,
		},
		Storage: Storage{
			Backend:           StorageLocal,
			LocalDir:          defaultStorageDir,
			Region:            "auto",
			PresignMinutes:    defaultPresignMinutes,
			UploadConcurrency: defaultUploadConcurrency,
		},
		Memory: Memory{
			LimitMB:              defaultMemoryLimitMB,
			GCThresholdPercent:   defaultGCThresholdPercent,
			MinGCIntervalSeconds: defaultMinGCIntervalSeconds,
		},
		Events: Events{
			RequestTimeout: 10,
			RedisChannel:   defaultRedisChannel,
		},
		API: API{
			Bind:                  defaultAPIBind,
			RequestTimeoutSeconds: defaultAPIRequestTimeout,
		},
		Maintenance: Maintenance{
			PurgeSchedule:       defaultPurgeSchedule,
			RetentionDays:       defaultRetentionDays,
			ClaimReportSchedule: defaultClaimReportSchedule,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
