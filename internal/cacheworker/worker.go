package cacheworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"moneymind/internal/cachestore"
	"moneymind/internal/config"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
)

// State is the lifecycle position of the worker version.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ErrInstallFailed reports that at least one manifest entry could not be
// precached. The worker is redundant afterwards.
var ErrInstallFailed = errors.New("worker install failed")

const (
	installConcurrency = 4
	userAgent          = "MoneyMind-CacheWorker/1.0"
)

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithHTTPClient replaces the client used to reach the origin.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Worker) {
		if client != nil {
			w.client = client
		}
	}
}

// WithNotifier sets where push notifications are shown.
func WithNotifier(notifier Notifier) Option {
	return func(w *Worker) {
		if notifier != nil {
			w.notifier = notifier
		}
	}
}

// WithSyncHook sets the hook run for background-sync events.
func WithSyncHook(hook SyncHook) Option {
	return func(w *Worker) {
		w.syncHook = hook
	}
}

// WithMetrics records fetch results on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// Worker is one version of the cache/proxy worker.
type Worker struct {
	storage     *cachestore.Storage
	origin      *url.URL
	version     string
	manifest    []string
	skipWaiting bool
	iconURL     string

	client   *http.Client
	notifier Notifier
	syncHook SyncHook
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	state State
	cache *cachestore.Cache
}

// New builds a worker in the parsed state.
func New(cfg *config.Config, storage *cachestore.Storage, opts ...Option) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("cache worker requires configuration")
	}
	if storage == nil {
		return nil, errors.New("cache worker requires cache storage")
	}
	origin, err := url.Parse(cfg.Worker.OriginURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid worker origin %q", cfg.Worker.OriginURL)
	}

	w := &Worker{
		storage:     storage,
		origin:      origin,
		version:     cfg.Worker.CacheVersion,
		manifest:    append([]string(nil), cfg.Worker.Manifest...),
		skipWaiting: cfg.Worker.SkipWaiting,
		iconURL:     cfg.Worker.NotifyIconURL,
		client:      &http.Client{Timeout: time.Duration(cfg.Worker.FetchTimeout) * time.Second},
		notifier:    noopNotifier{},
		logger:      logging.NewNop(),
		state:       StateParsed,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "cache-worker")
	return w, nil
}

// Version returns the cache name of this worker version.
func (w *Worker) Version() string { return w.version }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Install precaches every manifest path. Nothing is stored unless every path
// was fetched successfully. With skip-waiting enabled the worker activates
// immediately afterwards.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateParsed {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("install from state %s", state)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	started := time.Now()
	entries, err := w.fetchManifest(ctx)
	if err == nil {
		var cache *cachestore.Cache
		cache, err = w.storage.Open(ctx, w.version)
		if err == nil {
			err = cache.PutAll(ctx, entries)
		}
		if err == nil {
			w.mu.Lock()
			w.cache = cache
			w.mu.Unlock()
		}
	}
	if err != nil {
		w.setState(StateRedundant)
		logging.ErrorWithContext(w.logger, "worker install failed", "worker_install_failed",
			logging.String("version", w.version),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that every manifest path is served by the origin"),
			logging.String(logging.FieldImpact, "this worker version will not activate"),
		)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	w.setState(StateInstalled)
	w.logger.Info("worker installed",
		logging.String(logging.FieldEventType, "worker_installed"),
		logging.String("version", w.version),
		logging.Int("precached", len(entries)),
		logging.Duration("elapsed", time.Since(started)),
	)
	if w.skipWaiting {
		return w.Activate(ctx)
	}
	return nil
}

func (w *Worker) fetchManifest(ctx context.Context) ([]*cachestore.Entry, error) {
	entries := make([]*cachestore.Entry, len(w.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, path := range w.manifest {
		g.Go(func() error {
			entry, err := w.fetchEntry(gctx, path)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (w *Worker) fetchEntry(ctx context.Context, path string) (*cachestore.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.originURL(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("origin returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &cachestore.Entry{
		URL:    path,
		Status: resp.StatusCode,
		Header: storableHeader(resp.Header),
		Body:   body,
	}, nil
}

// Activate removes every cache except the current version and starts serving
// requests cache-first.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateActivated:
		w.mu.Unlock()
		return nil
	case StateInstalled:
		w.state = StateActivating
	default:
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("activate from state %s", state)
	}
	w.mu.Unlock()

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if name == w.version {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.setState(StateInstalled)
			return fmt.Errorf("delete old cache %s: %w", name, err)
		}
		w.logger.Info("old cache deleted",
			logging.String(logging.FieldEventType, "worker_cache_deleted"),
			logging.String("cache", name),
		)
	}

	w.setState(StateActivated)
	w.logger.Info("worker activated",
		logging.String(logging.FieldEventType, "worker_activated"),
		logging.String("version", w.version),
	)
	return nil
}

func (w *Worker) originURL(requestURI string) string {
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return strings.TrimRight(w.origin.String(), "/") + requestURI
}

func (w *Worker) currentCache() *cachestore.Cache {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cache
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopHeaders(header http.Header) {
	for _, key := range hopHeaders {
		header.Del(key)
	}
}

// storableHeader drops headers that describe one transfer rather than the
// resource itself.
func storableHeader(header http.Header) http.Header {
	out := header.Clone()
	if out == nil {
		out = make(http.Header)
	}
	stripHopHeaders(out)
	out.Del("Content-Length")
	out.Del("Set-Cookie")
	return out
}
