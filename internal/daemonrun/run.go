package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"moneymind/internal/config"
	"moneymind/internal/daemon"
	"moneymind/internal/ipc"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
	"moneymind/internal/notifications"
	"moneymind/internal/queue"
)

// PIDFileName holds the pid of the running upload daemon under paths.data_dir.
const PIDFileName = "moneymind.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the upload daemon and blocks until a signal or a Stop request.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	// The lock guards the pid file, socket and log of the running daemon,
	// so a rejected instance must not reach any of them.
	lock, err := daemon.AcquireLock(cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newProcessLogger(cfg, opts)
	if err != nil {
		return err
	}
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store", "queue_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run moneymind queue health to inspect the database"),
		)
		return err
	}
	defer store.Close()

	notifier := notifications.NewService(cfg, notifications.WithLogger(logger), notifications.WithMetrics(m))
	d, err := daemon.New(cfg, store, logger,
		daemon.WithMetrics(m),
		daemon.WithNotifier(notifier),
		daemon.WithLock(lock),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger, ipc.WithStopHandler(cancel))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "queued uploads are not retried until the daemon starts"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("moneymind daemon shutting down")
	return nil
}

// RunWorker serves the cache/proxy worker until a signal arrives.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New(logging.Options{
		Level:       opts.LogLevel,
		Format:      cfg.Logging.Format,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	proc, err := daemon.NewWorkerProcess(cfg, logger, m, nil)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	defer proc.Close()

	if err := proc.Start(signalCtx); err != nil {
		return err
	}
	<-signalCtx.Done()
	logger.Info("moneymind worker shutting down")
	return nil
}

// newProcessLogger rotates the previous run's log before opening a fresh one.
func newProcessLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	if _, err := logging.RotateLogFile(cfg.Paths.LogDir, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate daemon log: %v\n", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	noColor := false
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Color:            &noColor,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("endpoint", cfg.Upload.Endpoint),
		logging.Int("max_retries", cfg.Upload.MaxRetries),
		logging.Duration("retry_delay", cfg.RetryDelay()),
		logging.Int64("max_file_bytes", cfg.Upload.MaxFileBytes),
		logging.Bool("probe_enabled", cfg.Network.ProbeURL != ""),
		logging.Bool("link_watch", cfg.Network.WatchLinkEvents),
		logging.Bool("notifications", cfg.Notifications.NtfyTopic != ""),
		logging.String("api_bind", cfg.Paths.APIBind),
	)
}
