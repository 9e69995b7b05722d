package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"moneymind/internal/cachestore"
	"moneymind/internal/cacheworker"
	"moneymind/internal/config"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
	"moneymind/internal/notifications"
)

// WorkerLockFileName is the single-instance lock of the cache worker process.
const WorkerLockFileName = "moneymind-worker.lock"

// WorkerProcess serves the cache/proxy worker on the worker bind address.
type WorkerProcess struct {
	cfg     *config.Config
	logger  *slog.Logger
	storage *cachestore.Storage
	worker  *cacheworker.Worker
	metrics *metrics.Metrics

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// NewWorkerProcess opens the cache database and builds the worker. The
// notifier relays push notifications and may be nil.
func NewWorkerProcess(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, notifier notifications.Service) (*WorkerProcess, error) {
	if cfg == nil {
		return nil, errors.New("worker process requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg, notifications.WithLogger(logger), notifications.WithMetrics(m))
	}

	storage, err := cachestore.Open(cfg.CacheDBPath(), cfg.Worker.LRUEntries)
	if err != nil {
		return nil, fmt.Errorf("open cache storage: %w", err)
	}
	opts := []cacheworker.Option{
		cacheworker.WithLogger(logger),
		cacheworker.WithNotifier(notifier),
		cacheworker.WithMetrics(m),
	}
	if cfg.Worker.SyncHookURL != "" {
		opts = append(opts, cacheworker.WithSyncHook(cacheworker.NewHTTPSyncHook(cfg.Worker.SyncHookURL, nil)))
	}
	worker, err := cacheworker.New(cfg, storage, opts...)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, WorkerLockFileName)
	return &WorkerProcess{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "worker-process"),
		storage:  storage,
		worker:   worker,
		metrics:  m,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Worker exposes the underlying cache worker.
func (p *WorkerProcess) Worker() *cacheworker.Worker {
	return p.worker
}

// Start installs the worker and begins serving requests. A failed install is
// logged and the process keeps serving as a plain proxy.
func (p *WorkerProcess) Start(ctx context.Context) error {
	if p.running.Load() {
		return errors.New("worker already running")
	}
	ok, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another moneymind worker instance is already running")
	}

	if err := p.worker.Install(ctx); err != nil {
		logging.WarnWithContext(p.logger, "cache worker install failed", "worker_install_failed",
			logging.String("version", p.worker.Version()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "requests are proxied to the origin without caching"),
			logging.String(logging.FieldErrorHint, "check worker.origin_url and that every worker.manifest path returns 200"),
		)
	}

	listener, err := net.Listen("tcp", p.cfg.Paths.WorkerBind)
	if err != nil {
		_ = p.lock.Unlock()
		return fmt.Errorf("worker listen: %w", err)
	}
	server := &http.Server{
		Handler:           p.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	p.mu.Lock()
	p.listener = listener
	p.server = server
	p.done = make(chan struct{})
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("worker server error", logging.Error(err))
		}
	}()

	p.running.Store(true)
	p.logger.Info("cache worker listening",
		logging.String("address", listener.Addr().String()),
		logging.String("version", p.worker.Version()),
		logging.String("state", string(p.worker.State())),
	)
	return nil
}

// handler serves the worker, plus its metrics under the control prefix when
// metrics are enabled.
func (p *WorkerProcess) handler() http.Handler {
	if p.metrics == nil {
		return p.worker.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle(cacheworker.ControlPrefix+"metrics", p.metrics.Handler())
	mux.Handle("/", p.worker.Handler())
	return mux
}

// Address returns the bound listener address.
func (p *WorkerProcess) Address() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return p.cfg.Paths.WorkerBind
	}
	return p.listener.Addr().String()
}

// Stop shuts the server down and releases the lock.
func (p *WorkerProcess) Stop() {
	if !p.running.Load() {
		return
	}
	p.mu.Lock()
	server, done := p.server, p.done
	p.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	<-done

	if err := p.lock.Unlock(); err != nil {
		p.logger.Warn("failed to release worker lock", logging.Error(err))
	}
	p.running.Store(false)
	p.logger.Info("cache worker stopped")
}

// Close stops the process and closes the cache database.
func (p *WorkerProcess) Close() error {
	p.Stop()
	return p.storage.Close()
}
