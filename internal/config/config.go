package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Database selects the job repository backend.
type Database struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// StageWorker configures the worker pool for one pipeline stage.
type StageWorker struct {
	Concurrency       int `toml:"concurrency"`
	LeaseMinutes      int `toml:"lease_minutes"`
	MaxRetries        int `toml:"max_retries"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`
}

// Workers contains worker pool settings shared by every stage plus per-stage overrides.
type Workers struct {
	PollIntervalSeconds    int         `toml:"poll_interval_seconds"`
	ShutdownTimeoutSeconds int         `toml:"shutdown_timeout_seconds"`
	Upload                 StageWorker `toml:"upload"`
	SplitChunks            StageWorker `toml:"split_chunks"`
	StoreChunks            StageWorker `toml:"store_chunks"`
	QueueAnalysis          StageWorker `toml:"queue_analysis"`
	GeminiProcessing       StageWorker `toml:"gemini_processing"`
	AssembleTimeline       StageWorker `toml:"assemble_timeline"`
	RenderVideo            StageWorker `toml:"render_video"`
}

// Pipeline contains job intake defaults.
type Pipeline struct {
	MaxFileSizeMB     int      `toml:"max_file_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	DefaultPriority   int      `toml:"default_priority"`
	FFprobeBinary     string   `toml:"ffprobe_binary"`
}

// Chunking contains configuration for splitting sources into analysis chunks.
type Chunking struct {
	ChunkDurationSeconds float64 `toml:"chunk_duration_seconds"`
	MinTailSeconds       float64 `toml:"min_tail_seconds"`
	FFmpegBinary         string  `toml:"ffmpeg_binary"`
	Parallelism          int     `toml:"parallelism"`
}

// LLM contains connection settings for the chat-completions endpoint used by analysis.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Analysis contains settings for turning model output into remove segments.
type Analysis struct {
	MinConfidence   float64 `toml:"min_confidence"`
	TimestampFormat string  `toml:"timestamp_format"` // "hms" or "msf"
	Parallelism     int     `toml:"parallelism"`
}

// Render contains settings for the external render backend.
type Render struct {
	BaseURL             string  `toml:"base_url"`
	APIKey              string  `toml:"api_key"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	Quality             string  `toml:"quality"`
	Resolution          string  `toml:"resolution"`
	DefaultFPS          float64 `toml:"default_fps"`
}

// Storage selects where chunks and sources are stored for the collaborators.
type Storage struct {
	Backend           string `toml:"backend"` // "local" or "s3"
	LocalDir          string `toml:"local_dir"`
	Bucket            string `toml:"bucket"`
	Region            string `toml:"region"`
	Endpoint          string `toml:"endpoint"`
	AccessKeyID       string `toml:"access_key_id"`
	SecretAccessKey   string `toml:"secret_access_key"`
	PublicURL         string `toml:"public_url"`
	PresignMinutes    int    `toml:"presign_minutes"`
	UploadConcurrency int    `toml:"upload_concurrency"`
}

// Memory contains the advisory allocation ceiling.
type Memory struct {
	LimitMB              int     `toml:"limit_mb"`
	GCThresholdPercent   float64 `toml:"gc_threshold_percent"`
	MinGCIntervalSeconds int     `toml:"min_gc_interval_seconds"`
}

// Events contains configuration for job event fan-out.
type Events struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RedisURL       string `toml:"redis_url"`
	RedisChannel   string `toml:"redis_channel"`
}

// API contains HTTP API settings.
type API struct {
	Bind                  string `toml:"bind"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Maintenance contains the daemon's periodic housekeeping schedule.
type Maintenance struct {
	PurgeSchedule       string `toml:"purge_schedule"`
	RetentionDays       int    `toml:"retention_days"`
	ClaimReportSchedule string `toml:"claim_report_schedule"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for finalcut.
//
// Configuration sections by subsystem:
//   - Paths: data, work, and log directories
//   - Database: job repository driver and location
//   - Workers: poll interval, shutdown timeout, per-stage pools
//   - Pipeline: intake limits and probing
//   - Chunking: chunk duration and ffmpeg settings
//   - LLM / Analysis: the analysis collaborator
//   - Render: the render backend collaborator
//   - Storage: local or S3 object storage
//   - Memory: advisory allocation ceiling
//   - Events: ntfy and Redis event fan-out
//   - API / Maintenance / Logging: daemon surfaces
type Config struct {
	Paths       Paths       `toml:"paths"`
	Database    Database    `toml:"database"`
	Workers     Workers     `toml:"workers"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Chunking    Chunking    `toml:"chunking"`
	LLM         LLM         `toml:"llm"`
	Analysis    Analysis    `toml:"analysis"`
	Render      Render      `toml:"render"`
	Storage     Storage     `toml:"storage"`
	Memory      Memory      `toml:"memory"`
	Events      Events      `toml:"events"`
	API         API         `toml:"api"`
	Maintenance Maintenance `toml:"maintenance"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/finalcut/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err == nil && !info.IsDir() {
			return expanded, true, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, false, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("finalcut.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	if strings.TrimSpace(c.Database.Path) != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Paths.DataDir, "finalcut.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "finalcut.lock")
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	for _, secret := range []*string{
		&out.LLM.APIKey,
		&out.Render.APIKey,
		&out.Storage.AccessKeyID,
		&out.Storage.SecretAccessKey,
		&out.Database.DSN,
		&out.Events.RedisURL,
	} {
		if *secret != "" {
			*secret = redactedValue
		}
	}
	return out
}

const redactedValue = "********"

// PollInterval returns the worker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalSeconds) * time.Second
}

// ShutdownTimeout returns how long workers wait for in-flight jobs on stop.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Workers.ShutdownTimeoutSeconds) * time.Second
}

// StageWorker returns the pool settings for a stage name. Unknown stages report false.
func (c *Config) StageWorker(stage string) (StageWorker, bool) {
	switch stage {
	case "upload":
		return c.Workers.Upload, true
	case "split_chunks":
		return c.Workers.SplitChunks, true
	case "store_chunks":
		return c.Workers.StoreChunks, true
	case "queue_analysis":
		return c.Workers.QueueAnalysis, true
	case "gemini_processing":
		return c.Workers.GeminiProcessing, true
	case "assemble_timeline":
		return c.Workers.AssembleTimeline, true
	case "render_video":
		return c.Workers.RenderVideo, true
	default:
		return StageWorker{}, false
	}
}

// Lease returns the claim lease duration for the stage pool.
func (w StageWorker) Lease() time.Duration {
	return time.Duration(w.LeaseMinutes) * time.Minute
}

// RetryDelay returns the delay before a failed attempt is retried.
func (w StageWorker) RetryDelay() time.Duration {
	return time.Duration(w.RetryDelaySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
