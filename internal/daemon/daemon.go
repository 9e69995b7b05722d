package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"moneymind/internal/config"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
	"moneymind/internal/netmon"
	"moneymind/internal/notifications"
	"moneymind/internal/queue"
	"moneymind/internal/upload"
)

// LockFileName is the single-instance lock of the upload daemon.
const LockFileName = "moneymind.lock"

// Option customizes a Daemon.
type Option func(*options)

type options struct {
	metrics  *metrics.Metrics
	upload   []upload.Option
	notifier notifications.Service
	monitor  *netmon.Monitor
	lock     *flock.Flock
}

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another moneymind daemon instance is already running")

// AcquireLock takes the daemon instance lock under dataDir. Callers that
// touch shared runtime files (pid file, IPC socket, log) take it first.
func AcquireLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dataDir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

// WithLock hands Start a lock already taken by AcquireLock.
func WithLock(lock *flock.Flock) Option {
	return func(o *options) { o.lock = lock }
}

// WithMetrics records daemon activity on m and serves it on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithUploadOptions forwards extra options to the upload coordinator.
func WithUploadOptions(opts ...upload.Option) Option {
	return func(o *options) { o.upload = append(o.upload, opts...) }
}

// WithNotifier replaces the ntfy notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) { o.notifier = svc }
}

// WithMonitor supplies the network monitor instead of creating one.
func WithMonitor(monitor *netmon.Monitor) Option {
	return func(o *options) { o.monitor = monitor }
}

// Daemon owns the upload queue for the lifetime of the process.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *queue.Store
	monitor     *netmon.Monitor
	coordinator *upload.Coordinator
	prober      *netmon.Prober
	watcher     *netmon.UeventWatcher
	notifier    notifications.Service
	metrics     *metrics.Metrics
	api         *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	unsubs    []func()
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool          `json:"running"`
	PID            int           `json:"pid"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	Endpoint       string        `json:"endpoint"`
	QueueDBPath    string        `json:"queue_db_path"`
	LockFilePath   string        `json:"lock_path"`
	Network        netmon.Status `json:"network"`
	Advice         upload.Advice `json:"advice"`
	Stats          queue.Stats   `json:"stats"`
	PendingRetries int           `json:"pending_retries"`
	StatsError     string        `json:"stats_error,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	monitor := o.monitor
	if monitor == nil {
		monitor = netmon.NewMonitor(cfg.Network.AssumeOnline, logger)
		if cfg.Network.AssumeOnline && cfg.Network.EffectiveType != "" {
			monitor.Report(netmon.Signal{Online: true, EffectiveType: cfg.Network.EffectiveType})
		}
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg,
			notifications.WithLogger(logger),
			notifications.WithMetrics(o.metrics),
		)
	}

	uploadOpts := append([]upload.Option{
		upload.WithLogger(logger),
		upload.WithMetrics(o.metrics),
	}, o.upload...)
	coordinator, err := upload.New(cfg, store, monitor, uploadOpts...)
	if err != nil {
		return nil, fmt.Errorf("upload coordinator: %w", err)
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       store,
		monitor:     monitor,
		coordinator: coordinator,
		prober:      netmon.NewProber(cfg, monitor, logger),
		notifier:    notifier,
		metrics:     o.metrics,
		lockPath:    filepath.Join(cfg.Paths.DataDir, LockFileName),
	}
	d.lock = o.lock
	if d.lock == nil {
		d.lock = flock.New(d.lockPath)
	}
	if cfg.Network.WatchLinkEvents && d.prober != nil {
		d.watcher = netmon.NewUeventWatcher(logger, func(string) { d.prober.Trigger() })
	}
	d.api, err = newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Start acquires the daemon lock and launches background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped.Load() {
		return errors.New("daemon cannot be restarted after stop")
	}

	if !d.lock.Locked() {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.unsubs = append(d.unsubs,
		d.coordinator.Subscribe(d.handleUploadEvent),
		d.monitor.Subscribe(d.handleConnectivity),
	)
	d.publishNetwork()

	if err := d.coordinator.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start upload coordinator: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.abortStart()
		return err
	}
	if d.prober != nil {
		d.goBackground(func() { d.prober.Run(d.ctx) })
	}
	if d.watcher != nil {
		if err := d.watcher.Start(d.ctx); err != nil {
			logging.WarnWithContext(d.logger, "link watcher unavailable", "link_watch_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "connectivity changes are detected by periodic probes only"),
			)
		}
	}
	d.goBackground(func() { d.pollStats(d.ctx) })
	logging.CleanupOldLogs(d.logger, d.cfg.Paths.LogDir, d.cfg.Logging.RetentionDays)

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("moneymind daemon started",
		logging.String("lock", d.lockPath),
		logging.String("endpoint", d.cfg.Upload.Endpoint),
		logging.String("api", d.APIAddress()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.cancel()
	_ = d.lock.Unlock()
}

func (d *Daemon) goBackground(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.stopped.Store(true)

	if d.cancel != nil {
		d.cancel()
	}
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.api.stop()
	if d.watcher != nil {
		d.watcher.Stop()
	}
	_ = d.coordinator.Close()
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("moneymind daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	_ = d.coordinator.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the address the HTTP API listens on, or "" when disabled.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		StartedAt:      d.startedAt,
		Endpoint:       d.cfg.Upload.Endpoint,
		QueueDBPath:    d.store.Path(),
		LockFilePath:   d.lockPath,
		Network:        d.monitor.Status(),
		Advice:         d.coordinator.Advice(),
		PendingRetries: d.coordinator.PendingRetries(),
	}
	stats, err := d.coordinator.Stats(ctx)
	if err != nil {
		status.StatsError = err.Error()
	} else {
		status.Stats = stats
	}
	return status
}

// Stats returns queue aggregates.
func (d *Daemon) Stats(ctx context.Context) (queue.Stats, error) {
	return d.coordinator.Stats(ctx)
}

// List returns queued records, optionally filtered by status.
func (d *Daemon) List(ctx context.Context, status queue.Status) ([]*queue.Record, error) {
	return d.coordinator.List(ctx, status)
}

// Submit validates and uploads or queues files.
func (d *Daemon) Submit(ctx context.Context, files []upload.File, ownerID string, options queue.Options) []upload.Outcome {
	return d.coordinator.Submit(ctx, files, ownerID, options)
}

// Sync runs a retry sweep now.
func (d *Daemon) Sync(ctx context.Context) (upload.SweepResult, error) {
	return d.coordinator.ProcessPendingUploads(ctx)
}

// ClearFailed removes failed records.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.coordinator.ClearFailedUploads(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// ReportNetwork feeds an external connectivity observation into the monitor.
func (d *Daemon) ReportNetwork(sig netmon.Signal) {
	d.monitor.Report(sig)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) handleUploadEvent(event upload.Event) {
	var kind notifications.Event
	switch event.Kind {
	case upload.EventUploadSucceeded:
		kind = notifications.EventUploadSucceeded
		d.logger.Info("queued upload delivered",
			logging.String(logging.FieldEventType, "upload_succeeded"),
			logging.RecordID(event.RecordID),
			logging.File(event.FileName),
		)
	case upload.EventUploadFailed:
		kind = notifications.EventUploadFailed
		d.logger.Warn("queued upload failed",
			logging.String(logging.FieldEventType, "upload_failed"),
			logging.RecordID(event.RecordID),
			logging.File(event.FileName),
			logging.String("error", event.Error),
		)
	default:
		return
	}
	payload := notifications.Payload{
		"fileName": event.FileName,
		"ownerId":  event.OwnerID,
		"error":    event.Error,
	}
	ctx := d.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	d.goBackground(func() {
		_ = d.notifier.Publish(ctx, kind, payload)
	})
}

func (d *Daemon) handleConnectivity(netmon.Event) {
	d.publishNetwork()
}

func (d *Daemon) publishNetwork() {
	status := d.monitor.Status()
	d.metrics.SetNetwork(status.Online, string(status.Quality))
}

// pollStats refreshes queue gauges and logs changes in the pending count.
func (d *Daemon) pollStats(ctx context.Context) {
	interval := d.cfg.StatsPollInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastPending := -1
	for {
		stats, err := d.coordinator.Stats(ctx)
		if err == nil {
			d.metrics.SetQueue(stats.Pending, stats.Failed, stats.TotalSize)
			d.metrics.SetArmedRetries(d.coordinator.PendingRetries())
			if stats.Pending != lastPending {
				if lastPending >= 0 {
					d.logger.Info("pending uploads changed",
						logging.String(logging.FieldEventType, "queue_pending_changed"),
						logging.Int("pending", stats.Pending),
						logging.Int("failed", stats.Failed),
						logging.Int64("total_bytes", stats.TotalSize),
					)
				}
				lastPending = stats.Pending
			}
		} else if ctx.Err() == nil {
			d.logger.Debug("stats poll failed", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
