package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"moneymind/internal/config"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
	"moneymind/internal/netmon"
	"moneymind/internal/queue"
)

const (
	sweepKey     = "pending"
	savedMessage = "saved locally; will upload automatically when the network recovers"
)

var errNotPending = errors.New("record is no longer pending")

// Store is the queue surface the coordinator depends on.
type Store interface {
	Insert(ctx context.Context, rec queue.NewRecord) (int64, error)
	Get(ctx context.Context, id int64) (*queue.Record, error)
	List(ctx context.Context) ([]*queue.Record, error)
	ListByStatus(ctx context.Context, status queue.Status) ([]*queue.Record, error)
	Update(ctx context.Context, id int64, mutate func(*queue.Record) error) (*queue.Record, error)
	Delete(ctx context.Context, id int64) error
	DeleteByStatus(ctx context.Context, status queue.Status) (int64, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Monitor is the connectivity surface the coordinator depends on.
type Monitor interface {
	IsOnline() bool
	QualityClass() netmon.Quality
	Subscribe(fn func(netmon.Event)) (unsubscribe func())
}

// Outcome is the per-file result of Submit.
type Outcome struct {
	FileName string          `json:"file_name"`
	Success  bool            `json:"success"`
	Uploaded bool            `json:"uploaded"`
	Saved    bool            `json:"saved"`
	ID       int64           `json:"id,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Err      error           `json:"-"`
}

// RetryResult describes what one retry did to a record.
type RetryResult string

const (
	RetryUploaded  RetryResult = "uploaded"
	RetryScheduled RetryResult = "scheduled"
	RetryExhausted RetryResult = "exhausted"
	RetryGone      RetryResult = "gone"
	RetryAborted   RetryResult = "aborted"
)

// SweepResult summarises one pass over the pending records.
type SweepResult struct {
	SweepID   string        `json:"sweep_id,omitempty"`
	Offline   bool          `json:"offline,omitempty"`
	Pending   int           `json:"pending"`
	Attempted int           `json:"attempted"`
	Uploaded  int           `json:"uploaded"`
	Scheduled int           `json:"scheduled"`
	Exhausted int           `json:"exhausted"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

// Advice is the network hint shown before an upload.
type Advice struct {
	Mode    string         `json:"mode"`
	Online  bool           `json:"online"`
	Quality netmon.Quality `json:"quality"`
	Message string         `json:"message"`
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the client used for uploads.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		c.httpClient = client
	}
}

// WithMetrics records coordinator activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRetryDelay overrides the configured backoff between retries.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *Coordinator) {
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// Coordinator decides between direct upload and local queueing, and drives
// retries of queued records.
type Coordinator struct {
	store      Store
	monitor    Monitor
	client     *client
	httpClient *http.Client
	validator  validator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	events     *eventBus
	scheduler  *retryScheduler
	sweeps     singleflight.Group

	maxRetries  int
	retryDelay  time.Duration
	concurrency int

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	stopAfter   func() bool
	wg          sync.WaitGroup
}

// New builds a coordinator over store and monitor.
func New(cfg *config.Config, store Store, monitor Monitor, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, errors.New("upload coordinator requires configuration")
	}
	if store == nil {
		return nil, errors.New("upload coordinator requires a queue store")
	}
	if monitor == nil {
		return nil, errors.New("upload coordinator requires a network monitor")
	}

	c := &Coordinator{
		store:       store,
		monitor:     monitor,
		validator:   newValidator(cfg),
		logger:      logging.NewNop(),
		events:      newEventBus(),
		scheduler:   newRetryScheduler(),
		maxRetries:  cfg.Upload.MaxRetries,
		retryDelay:  cfg.RetryDelay(),
		concurrency: cfg.Upload.Concurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 5 * time.Second
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	c.logger = logging.NewComponentLogger(c.logger, "upload")
	c.client = newClient(cfg.Upload.Endpoint, c.httpClient, cfg.UploadTimeout())
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Start subscribes to connectivity changes and flushes records left by a
// previous session. Cancelling ctx has the same effect as Close on background
// work.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.unsubscribe = c.monitor.Subscribe(c.handleConnectivity)
	if ctx != nil {
		c.stopAfter = context.AfterFunc(ctx, c.cancel)
	}
	c.mu.Unlock()

	c.logger.Info("upload coordinator started",
		logging.Int("max_retries", c.maxRetries),
		logging.Duration("retry_delay", c.retryDelay),
		logging.Bool("online", c.monitor.IsOnline()),
	)
	c.sweepInBackground("startup")
	return nil
}

// Close stops background work, disarms retry timers and waits for in-flight
// sweeps.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	stopAfter := c.stopAfter
	c.mu.Unlock()

	c.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	if stopAfter != nil {
		stopAfter()
	}
	c.scheduler.Close()
	c.wg.Wait()
	return nil
}

// track registers background work unless the coordinator is closed.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) handleConnectivity(event netmon.Event) {
	switch event.Kind {
	case netmon.ConnectivityRestored:
		c.logger.Info("connectivity restored; processing pending uploads",
			logging.String(logging.FieldEventType, "connectivity_restored"),
			logging.String("quality", string(event.Quality)),
		)
		c.sweepInBackground("connectivity_restored")
	case netmon.ConnectivityLost:
		c.logger.Info("connectivity lost; new uploads will be saved locally",
			logging.String(logging.FieldEventType, "connectivity_lost"),
		)
	}
}

func (c *Coordinator) sweepInBackground(reason string) {
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		result, err := c.ProcessPendingUploads(c.baseCtx)
		if err != nil {
			if c.baseCtx.Err() == nil && !errors.Is(err, ErrClosed) {
				logging.WarnWithContext(c.logger, "pending upload sweep failed", "sweep_failed",
					logging.String("reason", reason),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the queue database with `moneymind queue health`"),
					logging.String(logging.FieldImpact, "queued images stay pending until the next sweep"),
				)
			}
			return
		}
		if result.Pending > 0 {
			c.logger.Info("pending upload sweep finished",
				logging.String("reason", reason),
				logging.String(logging.FieldSweepID, result.SweepID),
				logging.Int("pending", result.Pending),
				logging.Int("uploaded", result.Uploaded),
				logging.Int("scheduled", result.Scheduled),
				logging.Int("exhausted", result.Exhausted),
				logging.Int("skipped", result.Skipped),
			)
		}
	}()
}

// Subscribe registers fn for upload events. Callbacks run synchronously on
// the goroutine that finished the record and must not block for long.
func (c *Coordinator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.events.subscribe(fn)
}

// Advice describes what a submission would do under current conditions.
func (c *Coordinator) Advice() Advice {
	online := c.monitor.IsOnline()
	quality := c.monitor.QualityClass()
	advice := Advice{Online: online, Quality: quality}
	switch {
	case !online:
		advice.Mode = "offline"
		advice.Message = "Offline: images will be saved locally and uploaded automatically when the network recovers."
	case quality == netmon.QualityPoor:
		advice.Mode = "slow"
		advice.Message = "Slow connection: images will be saved locally and uploaded automatically later."
	default:
		advice.Mode = "direct"
		advice.Message = "Connection is good: images will be uploaded directly."
	}
	return advice
}

// Submit runs SubmitOne for every file and returns outcomes in input order.
// A failing file never aborts its siblings.
func (c *Coordinator) Submit(ctx context.Context, files []File, ownerID string, options queue.Options) []Outcome {
	outcomes := make([]Outcome, len(files))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, file := range files {
		g.Go(func() error {
			outcomes[i] = c.SubmitOne(ctx, file, ownerID, options)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// SubmitOne validates file, uploads it directly when the link allows and
// otherwise saves it to the queue as pending.
func (c *Coordinator) SubmitOne(ctx context.Context, file File, ownerID string, options queue.Options) Outcome {
	logger := logging.WithContext(ctx, c.logger)
	normalized, err := c.validator.validate(file)
	outcome := Outcome{FileName: normalized.Name}
	if err != nil {
		c.metrics.ObserveSubmission("rejected")
		logger.Info("upload rejected by validation",
			logging.String(logging.FieldEventType, "upload_rejected"),
			logging.File(normalized.Name),
			logging.String("mime_type", normalized.MimeType),
			logging.Int64("bytes", normalized.Size()),
			logging.Error(err),
		)
		return outcome.failed(err)
	}

	if c.monitor.IsOnline() && c.monitor.QualityClass() != netmon.QualityPoor {
		result, err := c.client.upload(ctx, normalized, ownerID, options)
		c.metrics.ObserveDirectUpload(err == nil)
		if err == nil {
			c.metrics.ObserveSubmission("uploaded")
			logger.Info("image uploaded",
				logging.String(logging.FieldEventType, "upload_direct"),
				logging.File(normalized.Name),
				logging.Int64("bytes", normalized.Size()),
			)
			outcome.Success = true
			outcome.Uploaded = true
			outcome.Result = result
			outcome.Message = "uploaded"
			return outcome
		}
		logging.WarnWithContext(logger, "direct upload failed; saving locally", "upload_direct_failed",
			logging.File(normalized.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, errorHint(err)),
			logging.String(logging.FieldImpact, "image queued for retry on the next sweep"),
		)
	}

	id, err := c.store.Insert(ctx, queue.NewRecord{
		OwnerID:  ownerPtr(ownerID),
		FileName: normalized.Name,
		MimeType: normalized.MimeType,
		Payload:  normalized.Data,
		Options:  options.Clone(),
	})
	if err != nil {
		c.metrics.ObserveSubmission("error")
		logging.ErrorWithContext(logger, "failed to save image locally", "upload_save_failed",
			logging.File(normalized.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions of the data directory"),
			logging.String(logging.FieldImpact, "image was neither uploaded nor queued"),
		)
		return outcome.failed(fmt.Errorf("save %s locally: %w", normalized.Name, err))
	}

	c.metrics.ObserveSubmission("saved")
	logger.Info("image saved locally",
		logging.String(logging.FieldEventType, "upload_queued"),
		logging.RecordID(id),
		logging.File(normalized.Name),
		logging.Int64("bytes", normalized.Size()),
	)
	outcome.Success = true
	outcome.Saved = true
	outcome.ID = id
	outcome.Message = savedMessage
	return outcome
}

func (o Outcome) failed(err error) Outcome {
	o.Success = false
	o.Err = err
	o.Error = err.Error()
	return o
}

// DirectUpload validates file and posts it to the endpoint without touching
// the queue.
func (c *Coordinator) DirectUpload(ctx context.Context, file File, ownerID string, options queue.Options) (json.RawMessage, error) {
	normalized, err := c.validator.validate(file)
	if err != nil {
		return nil, err
	}
	result, err := c.client.upload(ctx, normalized, ownerID, options)
	c.metrics.ObserveDirectUpload(err == nil)
	return result, err
}

// ProcessPendingUploads retries every pending record once. It does nothing
// while offline. Concurrent callers join the sweep already running.
func (c *Coordinator) ProcessPendingUploads(ctx context.Context) (SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.monitor.IsOnline() {
		c.logger.Debug("offline; pending upload sweep skipped")
		return SweepResult{Offline: true}, nil
	}

	ch := c.sweeps.DoChan(sweepKey, func() (any, error) {
		if !c.track() {
			return SweepResult{}, ErrClosed
		}
		defer c.wg.Done()
		return c.sweep(c.baseCtx)
	})
	select {
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(SweepResult)
		return result, res.Err
	}
}

func (c *Coordinator) sweep(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	result := SweepResult{SweepID: uuid.NewString()}
	ctx = logging.WithSweepID(ctx, result.SweepID)
	logger := logging.WithContext(ctx, c.logger)

	records, err := c.store.ListByStatus(ctx, queue.StatusPending)
	if err != nil {
		return result, fmt.Errorf("list pending uploads: %w", err)
	}
	result.Pending = len(records)
	if len(records) > 0 {
		logger.Info("processing pending uploads",
			logging.String(logging.FieldEventType, "sweep_started"),
			logging.Int("pending", len(records)),
		)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, rec := range records {
		if !c.scheduler.begin(rec.ID) {
			result.Skipped++
			continue
		}
		g.Go(func() error {
			defer c.scheduler.end(rec.ID)
			outcome, err := c.RetryOne(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			result.Attempted++
			if err != nil {
				result.Errors++
				return nil
			}
			switch outcome {
			case RetryUploaded:
				result.Uploaded++
			case RetryScheduled:
				result.Scheduled++
			case RetryExhausted:
				result.Exhausted++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(started)
	c.metrics.ObserveSweep(result.Duration)
	c.metrics.SetArmedRetries(c.scheduler.Len())
	return result, ctx.Err()
}

// RetryOne attempts to upload a queued record. Success removes the record and
// publishes uploadSucceeded. Failure increments the retry count; at the limit
// the record becomes failed and uploadFailed is published, otherwise another
// attempt is scheduled after the backoff delay. A record that vanished from
// the store counts as handled.
func (c *Coordinator) RetryOne(ctx context.Context, rec *queue.Record) (RetryResult, error) {
	if rec == nil {
		return RetryGone, nil
	}
	ctx = logging.WithRecordID(ctx, rec.ID)
	logger := logging.WithContext(ctx, c.logger)

	file := File{Name: rec.FileName, MimeType: rec.MimeType, Data: rec.Payload}
	result, uploadErr := c.client.upload(ctx, file, rec.Owner(), rec.Options)
	c.metrics.ObserveDirectUpload(uploadErr == nil)
	if uploadErr == nil {
		c.scheduler.Cancel(rec.ID)
		if err := c.store.Delete(ctx, rec.ID); err != nil {
			return RetryAborted, fmt.Errorf("delete uploaded record %d: %w", rec.ID, err)
		}
		c.metrics.ObserveRetry(string(RetryUploaded))
		logger.Info("queued image uploaded",
			logging.String(logging.FieldEventType, "upload_retry_succeeded"),
			logging.File(rec.FileName),
			logging.Int("retry_count", rec.RetryCount),
		)
		c.events.publish(Event{
			Kind:       EventUploadSucceeded,
			RecordID:   rec.ID,
			FileName:   rec.FileName,
			OwnerID:    rec.Owner(),
			Result:     result,
			RetryCount: rec.RetryCount,
			At:         time.Now().UTC(),
		})
		return RetryUploaded, nil
	}

	// An interrupted attempt says nothing about the endpoint.
	if err := ctx.Err(); err != nil {
		return RetryAborted, err
	}

	exhausted := false
	updated, err := c.store.Update(ctx, rec.ID, func(r *queue.Record) error {
		if r.Status != queue.StatusPending {
			return errNotPending
		}
		r.RetryCount++
		r.LastError = uploadErr.Error()
		exhausted = r.RetryCount >= c.maxRetries
		if exhausted {
			r.Status = queue.StatusFailed
		}
		return nil
	})
	if errors.Is(err, queue.ErrRecordNotFound) || errors.Is(err, errNotPending) {
		c.scheduler.Cancel(rec.ID)
		c.metrics.ObserveRetry(string(RetryGone))
		logger.Debug("record left the queue during retry")
		return RetryGone, nil
	}
	if err != nil {
		return RetryAborted, fmt.Errorf("record retry %d: %w", rec.ID, err)
	}

	if exhausted {
		c.scheduler.Cancel(rec.ID)
		c.metrics.ObserveRetry(string(RetryExhausted))
		logging.WarnWithContext(logger, "upload failed permanently", "upload_retry_exhausted",
			logging.File(updated.FileName),
			logging.Int("retry_count", updated.RetryCount),
			logging.Error(uploadErr),
			logging.String(logging.FieldErrorHint, errorHint(uploadErr)),
			logging.String(logging.FieldImpact, "image kept as failed; clear it with `moneymind queue clear-failed`"),
		)
		c.events.publish(Event{
			Kind:       EventUploadFailed,
			RecordID:   updated.ID,
			FileName:   updated.FileName,
			OwnerID:    updated.Owner(),
			Error:      uploadErr.Error(),
			RetryCount: updated.RetryCount,
			At:         time.Now().UTC(),
		})
		return RetryExhausted, nil
	}

	c.scheduler.Schedule(rec.ID, c.retryDelay, func() { c.retryScheduled(rec.ID) })
	c.metrics.ObserveRetry(string(RetryScheduled))
	c.metrics.SetArmedRetries(c.scheduler.Len())
	logger.Info("upload retry scheduled",
		logging.String(logging.FieldEventType, "upload_retry_scheduled"),
		logging.File(updated.FileName),
		logging.Int("retry_count", updated.RetryCount),
		logging.Int("max_retries", c.maxRetries),
		logging.Duration("delay", c.retryDelay),
		logging.Error(uploadErr),
	)
	return RetryScheduled, nil
}

// retryScheduled runs when a backoff timer fires. While offline the record is
// left for the sweep that follows reconnection.
func (c *Coordinator) retryScheduled(id int64) {
	ctx := c.baseCtx
	if ctx.Err() != nil {
		return
	}
	if !c.monitor.IsOnline() {
		c.logger.Debug("offline at retry time; waiting for reconnection",
			logging.RecordID(id))
		return
	}
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, queue.ErrRecordNotFound) && ctx.Err() == nil {
			logging.WarnWithContext(c.logger, "scheduled retry could not load record", "upload_retry_load_failed",
				logging.RecordID(id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "record retried on the next sweep"),
			)
		}
		return
	}
	if rec.Status != queue.StatusPending {
		return
	}
	if _, err := c.RetryOne(ctx, rec); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(c.logger, "scheduled retry failed", "upload_retry_error",
			logging.RecordID(id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "record retried on the next sweep"),
		)
	}
}

// PendingRetries returns the number of records waiting on a backoff timer.
func (c *Coordinator) PendingRetries() int {
	return c.scheduler.Len()
}

// Stats reports queue aggregates without modifying anything.
func (c *Coordinator) Stats(ctx context.Context) (queue.Stats, error) {
	return c.store.Stats(ctx)
}

// List returns queued records, optionally filtered by status.
func (c *Coordinator) List(ctx context.Context, status queue.Status) ([]*queue.Record, error) {
	if status == "" {
		return c.store.List(ctx)
	}
	return c.store.ListByStatus(ctx, status)
}

// ClearFailedUploads deletes every failed record. Pending records are never
// touched.
func (c *Coordinator) ClearFailedUploads(ctx context.Context) (int64, error) {
	failed, err := c.store.ListByStatus(ctx, queue.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed uploads: %w", err)
	}
	for _, rec := range failed {
		c.scheduler.Cancel(rec.ID)
	}
	removed, err := c.store.DeleteByStatus(ctx, queue.StatusFailed)
	if err != nil {
		return removed, fmt.Errorf("clear failed uploads: %w", err)
	}
	if removed > 0 {
		c.logger.Info("failed uploads cleared",
			logging.String(logging.FieldEventType, "queue_cleared"),
			logging.Int64("removed", removed),
		)
	}
	return removed, nil
}

func ownerPtr(ownerID string) *string {
	if ownerID == "" {
		return nil
	}
	return &ownerID
}
