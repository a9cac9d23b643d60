package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"finalcut/internal/api"
	"finalcut/internal/config"
	"finalcut/internal/queue"
)

const probeTimeout = 2 * time.Second

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag)
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.API.Bind
	}
	return ""
}

func (c *commandContext) client() *api.Client {
	timeout := 30 * time.Second
	if cfg := c.configValue(); cfg != nil && cfg.API.RequestTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.API.RequestTimeoutSeconds) * time.Second
	}
	return api.NewClient(c.apiAddress(), timeout)
}

// daemonReachable reports whether the API answers /healthz.
func (c *commandContext) daemonReachable(ctx context.Context) bool {
	if c.apiAddress() == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return c.client().Health(probeCtx) == nil
}

// withJobs runs fn against the daemon API when it answers and against the job
// database otherwise.
func (c *commandContext) withJobs(ctx context.Context, fn func(jobAPI) error) error {
	if c.daemonReachable(ctx) {
		return fn(httpJobs{client: c.client()})
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(api.NewJobService(store, api.WithDefaultPriority(cfg.Pipeline.DefaultPriority)))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
