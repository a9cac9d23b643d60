package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateMemory(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set when database.driver is postgres (or set FINALCUT_DATABASE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.poll_interval_seconds":    c.Workers.PollIntervalSeconds,
		"workers.shutdown_timeout_seconds": c.Workers.ShutdownTimeoutSeconds,
	}); err != nil {
		return err
	}
	stages := map[string]StageWorker{
		"upload":            c.Workers.Upload,
		"split_chunks":      c.Workers.SplitChunks,
		"store_chunks":      c.Workers.StoreChunks,
		"queue_analysis":    c.Workers.QueueAnalysis,
		"gemini_processing": c.Workers.GeminiProcessing,
		"assemble_timeline": c.Workers.AssembleTimeline,
		"render_video":      c.Workers.RenderVideo,
	}
	for name, w := range stages {
		if w.Concurrency < 0 {
			return fmt.Errorf("workers.%s.concurrency must be >= 0", name)
		}
		if w.Concurrency == 0 {
			continue
		}
		if err := ensurePositiveMap(map[string]int{
			"workers." + name + ".lease_minutes": w.LeaseMinutes,
			"workers." + name + ".max_retries":   w.MaxRetries,
		}); err != nil {
			return err
		}
		if w.RetryDelaySeconds < 0 {
			return fmt.Errorf("workers.%s.retry_delay_seconds must be >= 0", name)
		}
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.Chunking.ChunkDurationSeconds <= 0 {
		return errors.New("chunking.chunk_duration_seconds must be positive")
	}
	if c.Chunking.MinTailSeconds < 0 || c.Chunking.MinTailSeconds >= c.Chunking.ChunkDurationSeconds {
		return errors.New("chunking.min_tail_seconds must be >= 0 and smaller than chunking.chunk_duration_seconds")
	}
	if c.Chunking.Parallelism <= 0 {
		return errors.New("chunking.parallelism must be positive")
	}
	if c.Pipeline.MaxFileSizeMB <= 0 {
		return errors.New("pipeline.max_file_size_mb must be positive")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return errors.New("analysis.min_confidence must be between 0 and 1")
	}
	switch c.Analysis.TimestampFormat {
	case "hms", "msf":
	default:
		return fmt.Errorf("analysis.timestamp_format: unsupported value %q (want hms or msf)", c.Analysis.TimestampFormat)
	}
	if c.Analysis.Parallelism <= 0 {
		return errors.New("analysis.parallelism must be positive")
	}
	if c.Render.DefaultFPS <= 0 {
		return errors.New("render.default_fps must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when storage.backend is s3")
		}
		if c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "" {
			return errors.New("storage.access_key_id and storage.secret_access_key must be set when storage.backend is s3")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if c.Storage.UploadConcurrency <= 0 {
		return errors.New("storage.upload_concurrency must be positive")
	}
	return nil
}

func (c *Config) validateMemory() error {
	if c.Memory.LimitMB <= 0 {
		return errors.New("memory.limit_mb must be positive")
	}
	if c.Memory.GCThresholdPercent <= 0 || c.Memory.GCThresholdPercent > 100 {
		return errors.New("memory.gc_threshold_percent must be between 0 and 100")
	}
	if c.Memory.MinGCIntervalSeconds < 0 {
		return errors.New("memory.min_gc_interval_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
