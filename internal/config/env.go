package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every override, e.g. FINALCUT_LLM_API_KEY.
const envPrefix = "finalcut"

// envOverrides lists the settings that may be supplied through the
// environment. Empty values leave the file configuration untouched.
type envOverrides struct {
	LLMAPIKey         string `envconfig:"LLM_API_KEY"`
	DatabaseDriver    string `envconfig:"DATABASE_DRIVER"`
	DatabaseDSN       string `envconfig:"DATABASE_DSN"`
	StorageBackend    string `envconfig:"STORAGE_BACKEND"`
	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	RenderBaseURL     string `envconfig:"RENDER_BASE_URL"`
	RenderAPIKey      string `envconfig:"RENDER_API_KEY"`
	RedisURL          string `envconfig:"REDIS_URL"`
	APIBind           string `envconfig:"API_BIND"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	MemoryLimitMB     int    `envconfig:"MEMORY_LIMIT_MB"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	setString(&c.LLM.APIKey, env.LLMAPIKey)
	setString(&c.Database.Driver, env.DatabaseDriver)
	setString(&c.Database.DSN, env.DatabaseDSN)
	setString(&c.Storage.Backend, env.StorageBackend)
	setString(&c.Storage.Bucket, env.S3Bucket)
	setString(&c.Storage.Endpoint, env.S3Endpoint)
	setString(&c.Storage.AccessKeyID, env.S3AccessKeyID)
	setString(&c.Storage.SecretAccessKey, env.S3SecretAccessKey)
	setString(&c.Render.BaseURL, env.RenderBaseURL)
	setString(&c.Render.APIKey, env.RenderAPIKey)
	setString(&c.Events.RedisURL, env.RedisURL)
	setString(&c.API.Bind, env.APIBind)
	setString(&c.Logging.Level, env.LogLevel)
	if env.MemoryLimitMB > 0 {
		c.Memory.LimitMB = env.MemoryLimitMB
	}
	return nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}
