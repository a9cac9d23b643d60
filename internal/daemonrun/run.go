// Package daemonrun assembles and runs the finalcut daemon process: logging,
// the job repository, object storage, event transports, every pipeline stage,
// and the daemon lifecycle.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"finalcut/internal/config"
	"finalcut/internal/daemon"
	"finalcut/internal/events"
	"finalcut/internal/logging"
	"finalcut/internal/memory"
	"finalcut/internal/preflight"
	"finalcut/internal/progress"
	"finalcut/internal/queue"
	"finalcut/internal/storage"
	"finalcut/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	Development   bool
	NetworkChecks bool
}

// Run starts the finalcut daemon and blocks until cmdCtx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("finalcut-%s.log", runID))
	logger, err := logging.NewFromConfig(cfg, logging.Options{
		Level:            opts.LogLevel,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update finalcut.log link: %v\n", err)
	}

	logPreflight(signalCtx, logger, cfg, opts)

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store", "store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database.driver and database.path/dsn"),
		)
		return err
	}

	objects, err := storage.New(signalCtx, cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("open object storage: %w", err)
	}

	bus, err := events.New(cfg, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("init events: %w", err)
	}
	defer bus.Close()

	tracker := progress.NewTracker()
	mem := memory.FromConfig(cfg, logger)

	manager := workflow.NewManager(cfg, store, logger,
		workflow.WithPublisher(bus),
		workflow.WithTracker(tracker),
	)
	set, err := BuildStages(cfg, store, objects, mem, logger)
	if err != nil {
		store.Close()
		return err
	}
	if err := manager.ConfigureStages(set); err != nil {
		store.Close()
		return fmt.Errorf("configure stages: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, manager,
		daemon.WithPublisher(bus),
		daemon.WithTracker(tracker),
		daemon.WithMemory(mem),
	)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("finalcut daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// PIDPath returns the pid file written while the daemon runs.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "finalcut.pid")
}

// ReadPID returns the pid recorded in path, or 0 when absent or malformed.
func ReadPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

const currentLogName = "finalcut.log"

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts Options) {
	results := preflight.RunAll(ctx, cfg, preflight.Options{Network: opts.NetworkChecks})
	for _, r := range results {
		if r.Passed {
			logger.Info("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_passed"),
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("optional", r.Optional),
			logging.String(logging.FieldErrorHint, "run `finalcut status` for details"),
		)
	}
}

// CurrentLogPath is the stable pointer to the active run's log file.
func CurrentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, currentLogName)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
