package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeLLM()
	c.normalizeRender()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Database.Path, err = expandPath(strings.TrimSpace(c.Database.Path)); err != nil {
		return fmt.Errorf("database.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = defaultStorageDir
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Endpoint = strings.TrimRight(strings.TrimSpace(c.Storage.Endpoint), "/")
	c.Storage.PublicURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicURL), "/")
	c.Storage.AccessKeyID = strings.TrimSpace(c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = strings.TrimSpace(c.Storage.SecretAccessKey)
	if strings.TrimSpace(c.Storage.Region) == "" {
		c.Storage.Region = "auto"
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.Analysis.TimestampFormat = strings.ToLower(strings.TrimSpace(c.Analysis.TimestampFormat))
	if c.Analysis.TimestampFormat == "" {
		c.Analysis.TimestampFormat = defaultTimestampFormat
	}
}

func (c *Config) normalizeRender() {
	c.Render.BaseURL = strings.TrimRight(strings.TrimSpace(c.Render.BaseURL), "/")
	c.Render.APIKey = strings.TrimSpace(c.Render.APIKey)
	c.Render.Quality = strings.ToLower(strings.TrimSpace(c.Render.Quality))
	c.Render.Resolution = strings.ToLower(strings.TrimSpace(c.Render.Resolution))
}

func (c *Config) normalizePipeline() {
	exts := make([]string, 0, len(c.Pipeline.AllowedExtensions))
	for _, ext := range c.Pipeline.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Pipeline.AllowedExtensions = exts
	if strings.TrimSpace(c.Pipeline.FFprobeBinary) == "" {
		c.Pipeline.FFprobeBinary = "ffprobe"
	}
	if strings.TrimSpace(c.Chunking.FFmpegBinary) == "" {
		c.Chunking.FFmpegBinary = "ffmpeg"
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
